package watch_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/repofleet/internal/watch"
)

func fakeRepo(root, name string) string {
	repo := filepath.Join(root, name)
	Expect(os.MkdirAll(filepath.Join(repo, ".git"), 0o755)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(repo, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644)).To(Succeed())
	return repo
}

var _ = Describe("Watcher", func() {
	var w *watch.Watcher

	BeforeEach(func() {
		var err error
		w, err = watch.New(nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(w.Close()).To(Succeed()) })
	})

	It("reports the repository whose HEAD changed", func() {
		root := GinkgoT().TempDir()
		a := fakeRepo(root, "a")
		b := fakeRepo(root, "b")
		Expect(w.AddAll([]string{a, b})).To(BeEmpty())

		Expect(os.WriteFile(filepath.Join(a, ".git", "HEAD"), []byte("ref: refs/heads/topic\n"), 0o644)).To(Succeed())

		var changed []string
		Eventually(func() []string {
			changed = append(changed, w.Drain()...)
			return changed
		}, 5*time.Second, 10*time.Millisecond).Should(ContainElement(a))
		Expect(changed).NotTo(ContainElement(b))
	})

	It("ignores files other than branch and index metadata", func() {
		root := GinkgoT().TempDir()
		a := fakeRepo(root, "a")
		Expect(w.Add(a)).To(Succeed())

		Expect(os.WriteFile(filepath.Join(a, ".git", "description"), []byte("x"), 0o644)).To(Succeed())
		Consistently(w.Drain, 200*time.Millisecond, 20*time.Millisecond).Should(BeEmpty())
	})

	It("reports paths it cannot watch", func() {
		plain := GinkgoT().TempDir()
		Expect(w.AddAll([]string{plain})).To(Equal([]string{plain}))
	})

	It("collapses repeated changes into one notification per drain", func() {
		root := GinkgoT().TempDir()
		a := fakeRepo(root, "a")
		Expect(w.Add(a)).To(Succeed())
		Expect(w.Add(a)).To(Succeed())

		for i := 0; i < 3; i++ {
			Expect(os.WriteFile(filepath.Join(a, ".git", "index"), []byte{byte(i)}, 0o644)).To(Succeed())
		}
		Eventually(w.Ready(), 5*time.Second).Should(Receive())
		time.Sleep(50 * time.Millisecond)
		Expect(w.Drain()).To(Equal([]string{a}))
	})

	It("refuses new paths after Close", func() {
		root := GinkgoT().TempDir()
		a := fakeRepo(root, "a")
		Expect(w.Close()).To(Succeed())
		Expect(w.Add(a)).To(MatchError("watcher stopped"))
	})
})
