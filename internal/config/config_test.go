package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skaphos/repofleet/internal/config"
)

var _ = Describe("Config", func() {
	It("resolves config path from override directory", func() {
		path, err := config.ConfigPath(filepath.Join("C:", "tmp", "repofleet"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveSuffix(filepath.Join("repofleet", "config.yaml")))
	})

	It("resolves config path from override file", func() {
		path, err := config.ConfigPath(filepath.Join("C:", "tmp", "config.yaml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveSuffix(filepath.Join("tmp", "config.yaml")))
	})

	It("resolves config path from env", func() {
		GinkgoT().Setenv(config.ConfigEnv, filepath.Join("C:", "cfg", "config.yaml"))
		path, err := config.ConfigPath("")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveSuffix(filepath.Join("cfg", "config.yaml")))

		dir, err := config.ConfigDir("")
		Expect(err).NotTo(HaveOccurred())
		Expect(dir).To(HaveSuffix("cfg"))
	})

	It("resolves init path to local dotfile by default", func() {
		dir := GinkgoT().TempDir()
		path, err := config.InitConfigPath("", dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(filepath.Join(dir, ".repofleet.yaml")))
	})

	It("prefers local dotfile for runtime config resolution", func() {
		dir := GinkgoT().TempDir()
		localPath := filepath.Join(dir, ".repofleet.yaml")
		Expect(os.WriteFile(localPath, []byte("pull_rebase: true\n"), 0o644)).To(Succeed())

		path, err := config.ResolveConfigPath("", dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(localPath))
	})

	It("prefers nearer dotfile over farther parent", func() {
		dir := GinkgoT().TempDir()
		parentPath := filepath.Join(dir, ".repofleet.yaml")
		Expect(os.WriteFile(parentPath, []byte("pull_rebase: false\n"), 0o644)).To(Succeed())

		childDir := filepath.Join(dir, "a", "b")
		Expect(os.MkdirAll(childDir, 0o755)).To(Succeed())
		childPath := filepath.Join(childDir, ".repofleet.yaml")
		Expect(os.WriteFile(childPath, []byte("pull_rebase: true\n"), 0o644)).To(Succeed())

		nested := filepath.Join(childDir, "c")
		Expect(os.MkdirAll(nested, 0o755)).To(Succeed())

		path, err := config.ResolveConfigPath("", nested)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(childPath))
	})

	It("falls back to global runtime config when local dotfile is absent", func() {
		dir := GinkgoT().TempDir()
		path, err := config.ResolveConfigPath("", dir)
		Expect(err).NotTo(HaveOccurred())

		globalPath, err := config.ConfigPath("")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(globalPath))
	})

	It("returns defaults when the file does not exist", func() {
		cfg, err := config.Load(filepath.Join(GinkgoT().TempDir(), "config.yaml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(*cfg).To(Equal(config.DefaultConfig()))
	})

	It("saves and loads config", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "config.yaml")
		cfg := config.DefaultConfig()
		cfg.PullRebase = true
		cfg.Exclude = []string{"**/scratch/**"}
		cfg.Defaults.WriteConcurrency = 3

		Expect(config.Save(&cfg, path)).To(Succeed())
		loaded, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.PullRebase).To(BeTrue())
		Expect(loaded.Exclude).To(Equal([]string{"**/scratch/**"}))
		Expect(loaded.Defaults.WriteConcurrency).To(Equal(3))
		Expect(loaded.Defaults.ReadConcurrency).To(Equal(10))
		Expect(loaded.RegistryFile(path)).To(Equal(filepath.Join(dir, "registry.yaml")))
	})

	It("fills unset values from defaults", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte("defaults:\n  log_lines: 50\n"), 0o644)).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Defaults.LogLines).To(Equal(50))
		Expect(cfg.Defaults.WriteConcurrency).To(Equal(5))
		Expect(cfg.Defaults.TickMillis).To(Equal(100))
		Expect(cfg.StashSentinel).To(Equal("repofleet-sentinel"))
		Expect(cfg.APIVersion).To(Equal(config.ConfigAPIVersion))
	})

	It("applies environment overrides", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte("pull_rebase: false\n"), 0o644)).To(Succeed())
		GinkgoT().Setenv("REPOFLEET_PULL_REBASE", "true")
		GinkgoT().Setenv("REPOFLEET_DEFAULTS_WRITE_CONCURRENCY", "7")
		GinkgoT().Setenv("REPOFLEET_LOG_LEVEL", "debug")

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.PullRebase).To(BeTrue())
		Expect(cfg.Defaults.WriteConcurrency).To(Equal(7))
		Expect(cfg.Log.Level).To(Equal("debug"))
	})

	It("rejects an unknown schema kind", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte("apiVersion: skaphos.io/repofleet/v1alpha1\nkind: Other\n"), 0o644)).To(Succeed())
		_, err := config.Load(path)
		Expect(err).To(MatchError(ContainSubstring("unsupported config kind")))
	})
})
