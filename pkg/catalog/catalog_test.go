package catalog_test

import (
	"os"
	"path/filepath"
	"regexp"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kralicky/voicebox/pkg/catalog"
	"github.com/kralicky/voicebox/pkg/tasks"
)

var _ = Describe("Catalog", func() {
	var modelRoot, audioRoot, trainRoot string

	BeforeEach(func() {
		modelRoot = GinkgoT().TempDir()
		audioRoot = GinkgoT().TempDir()
		trainRoot = GinkgoT().TempDir()
		Expect(os.Mkdir(filepath.Join(modelRoot, "paraformer"), 0o755)).To(Succeed())
	})

	synthesis := func() *catalog.Entry {
		e, err := catalog.Compile(catalog.Spec{
			Category: tasks.SpeechSynthesis,
			Prefix:   []string{"conda", "run", "-n", "tts_env", "--no-capture-output"},
			Args: []string{
				"python", "speech_synthesis.py",
				"{{.Params.model}}", "{{.Params.text}}", "{{.Params.speech_rate}}", "{{.Output}}",
			},
			Params: []catalog.Param{
				{Name: "model", Kind: catalog.KindPath, Root: modelRoot, Required: true, MustExist: true},
				{Name: "text", Kind: catalog.KindString, Required: true},
				{Name: "speech_rate", Kind: catalog.KindNumber, Default: "1.0"},
			},
			Output: &catalog.Output{Dir: audioRoot, Prefix: "tts_output", Ext: ".wav"},
		})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	training := func() *catalog.Entry {
		e, err := catalog.Compile(catalog.Spec{
			Category: tasks.VitsTraining,
			Args: []string{
				"python", "tts_train.py",
				"--device", `{{if eq .Params.use_gpu "true"}}cuda{{else}}cpu{{end}}`,
				"--model_dir", "{{.ModelDir}}",
			},
			Params: []catalog.Param{
				{Name: "model_name", Default: "default_model", Pattern: regexp.MustCompile(`^[\w.-]+$`)},
				{Name: "use_gpu", Kind: catalog.KindBool, Default: "false"},
			},
			ModelDir: &catalog.VersionedDir{Root: trainRoot, Param: "model_name"},
		})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	When("resolving valid params", func() {
		It("should render exactly one argument per template", func() {
			inv, err := synthesis().Resolve(map[string]string{
				"model": "paraformer",
				"text":  `hello "world"; rm -rf / && echo $HOME`,
			})
			Expect(err).NotTo(HaveOccurred())
			args := inv.Command.Args
			Expect(args).To(HaveLen(11))
			Expect(args[:5]).To(Equal([]string{"conda", "run", "-n", "tts_env", "--no-capture-output"}))
			Expect(args[7]).To(Equal(filepath.Join(modelRoot, "paraformer")))
			Expect(args[8]).To(Equal(`hello "world"; rm -rf / && echo $HOME`))
			Expect(args[9]).To(Equal("1.0"))
			Expect(args[10]).To(Equal(inv.Artifact))
		})
		It("should name outputs uniquely", func() {
			e := synthesis()
			params := map[string]string{"model": "paraformer", "text": "hi"}
			a, err := e.Resolve(params)
			Expect(err).NotTo(HaveOccurred())
			b, err := e.Resolve(params)
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Artifact).NotTo(Equal(b.Artifact))
			Expect(filepath.Dir(a.Artifact)).To(Equal(audioRoot))
			Expect(filepath.Base(a.Artifact)).To(MatchRegexp(`^tts_output_[0-9a-f]{32}\.wav$`))
		})
		It("should normalize booleans and apply defaults", func() {
			inv, err := training().Resolve(map[string]string{"use_gpu": "1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(inv.Command.Args[3]).To(Equal("cuda"))
			Expect(inv.ModelDir).To(Equal(filepath.Join(trainRoot, "default_model")))
		})
	})

	When("reserving versioned model directories", func() {
		It("should pick the next free version", func() {
			e := training()
			var dirs []string
			for range 3 {
				inv, err := e.Resolve(map[string]string{"model_name": "voice"})
				Expect(err).NotTo(HaveOccurred())
				dirs = append(dirs, filepath.Base(inv.ModelDir))
				Expect(inv.ModelDir).To(BeADirectory())
			}
			Expect(dirs).To(Equal([]string{"voice", "voice_V1", "voice_V2"}))
		})
		It("should release the directory of a discarded invocation", func() {
			inv, err := training().Resolve(nil)
			Expect(err).NotTo(HaveOccurred())
			inv.Discard()
			Expect(inv.ModelDir).NotTo(BeADirectory())
		})
	})

	When("resolving invalid params", func() {
		DescribeTable("should reject them",
			func(params map[string]string) {
				_, err := synthesis().Resolve(params)
				Expect(err).To(MatchError(tasks.ErrInvalidCommand))
			},
			Entry("missing required param", map[string]string{"model": "paraformer"}),
			Entry("unknown param", map[string]string{"model": "paraformer", "text": "hi", "extra": "x"}),
			Entry("absolute path", map[string]string{"model": "/etc", "text": "hi"}),
			Entry("path escaping its root", map[string]string{"model": "../paraformer", "text": "hi"}),
			Entry("nonexistent path", map[string]string{"model": "missing", "text": "hi"}),
			Entry("non-numeric number", map[string]string{"model": "paraformer", "text": "hi", "speech_rate": "fast"}),
			Entry("NUL byte", map[string]string{"model": "paraformer", "text": "a\x00b"}),
		)
		It("should reject symlinks that lead out of the root", func() {
			Expect(os.Symlink(audioRoot, filepath.Join(modelRoot, "outside"))).To(Succeed())
			_, err := synthesis().Resolve(map[string]string{"model": "outside", "text": "hi"})
			Expect(err).To(MatchError(tasks.ErrInvalidCommand))
			Expect(err).To(MatchError(ContainSubstring("within its root")))
		})
		It("should accept symlinks that stay inside the root", func() {
			Expect(os.Symlink("paraformer", filepath.Join(modelRoot, "latest"))).To(Succeed())
			inv, err := synthesis().Resolve(map[string]string{"model": "latest", "text": "hi"})
			Expect(err).NotTo(HaveOccurred())
			Expect(inv.Command.Args[7]).To(Equal(filepath.Join(modelRoot, "latest")))
		})
		It("should reject model names that are not plain names", func() {
			_, err := training().Resolve(map[string]string{"model_name": "a/b"})
			Expect(err).To(MatchError(tasks.ErrInvalidCommand))
		})
	})

	When("compiling specs", func() {
		It("should reject malformed templates", func() {
			_, err := catalog.Compile(catalog.Spec{
				Category: "x",
				Args:     []string{"{{.Params.model"},
			})
			Expect(err).To(HaveOccurred())
		})
		It("should reject path params without a root", func() {
			_, err := catalog.Compile(catalog.Spec{
				Category: "x",
				Args:     []string{"true"},
				Params:   []catalog.Param{{Name: "p", Kind: catalog.KindPath}},
			})
			Expect(err).To(HaveOccurred())
		})
		It("should reject templates that refer to undeclared params", func() {
			e, err := catalog.Compile(catalog.Spec{
				Category: "x",
				Args:     []string{"echo", "{{.Params.nope}}"},
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.Resolve(nil)
			Expect(err).To(MatchError(tasks.ErrInvalidCommand))
		})
	})

	It("should look up entries by category", func() {
		c := catalog.New(synthesis(), training())
		_, err := c.Lookup(tasks.SpeechSynthesis)
		Expect(err).NotTo(HaveOccurred())
		_, err = c.Resolve(tasks.FileRecognition, nil)
		Expect(err).To(MatchError(tasks.ErrUnknownCategory))
	})
})
