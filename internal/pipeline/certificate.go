package pipeline

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"certhub/constants"
	"certhub/internal/common"
	"certhub/internal/profile"
	"certhub/internal/storage"
)

//go:embed scripts/render_pptx.py
var renderScript []byte

//go:embed scripts/combine_pptx.py
var combineScript []byte

const (
	renderScriptName  = "render_pptx.py"
	combineScriptName = "combine_pptx.py"
	pptxContentType   = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// CertRenderer assembles a certificate for one profile: template + headshot
// + layout instructions through the external render and convert processes,
// then uploads the results. Scratch files are keyed by profile id so
// concurrent jobs for different profiles never collide.
type CertRenderer struct {
	store      storage.Store
	runner     Runner
	logger     *slog.Logger
	workDir    string
	pythonBin  string
	convertBin string

	template singleflight.Group

	// Now supplies the default sign-off date; injectable for tests.
	Now func() time.Time
}

func NewCertRenderer(store storage.Store, runner Runner, cfg common.RenderConfig, logger *slog.Logger) *CertRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CertRenderer{
		store:      store,
		runner:     runner,
		logger:     logger,
		workDir:    cfg.WorkDir,
		pythonBin:  cfg.PythonBin,
		convertBin: cfg.ConvertBin,
		Now:        time.Now,
	}
}

type renderStep struct {
	name string
	fn   func(ctx context.Context, rc *renderContext) error
}

type renderContext struct {
	p   *profile.Profile
	cfg profile.Config

	templatePath string
	headshotPath string
	inputPath    string
	pptxPath     string
	previewPath  string
}

// Render runs the sequential certificate chain and stops at the first
// failing step. Scratch files for this profile id are removed no matter
// where the chain stopped.
func (r *CertRenderer) Render(ctx context.Context, p *profile.Profile, cfg profile.Config) RenderResult {
	rc := &renderContext{
		p:            p,
		cfg:          cfg,
		templatePath: filepath.Join(r.workDir, "template.pptx"),
		headshotPath: filepath.Join(r.workDir, p.ID+"_headshot.jpg"),
		inputPath:    filepath.Join(r.workDir, p.ID+"_input.txt"),
		pptxPath:     filepath.Join(r.workDir, p.ID+".pptx"),
		previewPath:  filepath.Join(r.workDir, p.ID+".png"),
	}
	defer r.cleanup(p.ID)

	steps := []renderStep{
		{"workspace", r.ensureWorkspace},
		{"template", r.fetchTemplate},
		{"headshot", r.fetchHeadshot},
		{"render", r.renderSlide},
		{"convert", r.convertPreview},
		{"upload", r.uploadArtifacts},
	}
	for _, s := range steps {
		if err := s.fn(ctx, rc); err != nil {
			r.logger.Error("pipeline.render.failed", "id", p.ID, "step", s.name, "error", err)
			return RenderResult{ID: p.ID, Step: s.name, Err: err}
		}
	}

	r.logger.Info("pipeline.render.ok", "id", p.ID)
	return RenderResult{ID: p.ID}
}

// ensureWorkspace creates the scratch dir and writes a fresh copy of the
// helper scripts. Copying every run keeps upgrades from racing old binaries
// against new helpers.
func (r *CertRenderer) ensureWorkspace(_ context.Context, _ *renderContext) error {
	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.workDir, renderScriptName), renderScript, 0o755); err != nil {
		return fmt.Errorf("copy render helper: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.workDir, combineScriptName), combineScript, 0o755); err != nil {
		return fmt.Errorf("copy combine helper: %w", err)
	}
	return nil
}

// fetchTemplate downloads the certificate template once and caches it in the
// workdir. Concurrent jobs share a single download.
func (r *CertRenderer) fetchTemplate(ctx context.Context, rc *renderContext) error {
	_, err, _ := r.template.Do("template", func() (any, error) {
		if _, statErr := os.Stat(rc.templatePath); statErr == nil {
			return nil, nil
		}
		return nil, storage.FetchToFile(ctx, r.store, constants.TemplateKey, rc.templatePath)
	})
	return err
}

func (r *CertRenderer) fetchHeadshot(ctx context.Context, rc *renderContext) error {
	return storage.FetchToFile(ctx, r.store, constants.HeadshotKey(rc.p.ID), rc.headshotPath)
}

// renderSlide writes the plain-text instruction file and invokes the render
// helper with it as the sole argument.
func (r *CertRenderer) renderSlide(ctx context.Context, rc *renderContext) error {
	instructions := r.buildInstructions(rc)
	if err := os.WriteFile(rc.inputPath, []byte(instructions), 0o644); err != nil {
		return fmt.Errorf("write instructions: %w", err)
	}

	scriptPath := filepath.Join(r.workDir, renderScriptName)
	_, stderr, err := r.runner.Run(ctx, r.pythonBin, scriptPath, rc.inputPath)
	if err != nil {
		return fmt.Errorf("render helper: %v: %s: %w", err, truncate(string(stderr), 2<<10), common.ErrRender)
	}
	return nil
}

// buildInstructions emits the render helper's input format: the template and
// output paths, the headshot image block, then one text block per populated
// field, each paired with its layout spec and a left-alignment directive.
func (r *CertRenderer) buildInstructions(rc *renderContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", rc.templatePath, rc.pptxPath)

	fmt.Fprintf(&b, "img %s\n%s\n", rc.headshotPath, rc.cfg.LayoutSpec(profile.FieldHeadshot))

	text := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(&b, "txt %s\n%s align=left\n", value, rc.cfg.LayoutSpec(field))
	}

	text(profile.FieldName, strings.TrimSpace(rc.p.NamePinyin+" "+rc.p.NameCN))
	if rc.p.Birthday != nil {
		text(profile.FieldBirthday, rc.p.Birthday.Format("January 2, 2006"))
	}
	if rc.p.BaptismDate != nil {
		text(profile.FieldBaptismDay, strconv.Itoa(rc.p.BaptismDate.Day()))
		text(profile.FieldBaptismMonth, rc.p.BaptismDate.Month().String())
		text(profile.FieldBaptismYear, strconv.Itoa(rc.p.BaptismDate.Year()))
	}
	text(profile.FieldSignDate, r.signDate(rc.cfg).Format("January 2, 2006"))

	return b.String()
}

// signDate is the configured override when present, today otherwise.
func (r *CertRenderer) signDate(cfg profile.Config) time.Time {
	if v, ok := cfg.CertificateConfig[profile.SignDateKey]; ok {
		if d := profile.ParseDate(v); d != nil {
			return d.Time
		}
	}
	return r.Now()
}

// convertPreview turns the rendered deck into a PNG preview. The converter
// sometimes emits the page under a "-1" suffixed name; rename it to the
// canonical one.
func (r *CertRenderer) convertPreview(ctx context.Context, rc *renderContext) error {
	_, stderr, err := r.runner.Run(ctx, r.convertBin,
		"--headless", "--convert-to", "png", "--outdir", r.workDir, rc.pptxPath)
	if err != nil {
		return fmt.Errorf("convert: %v: %s: %w", err, truncate(string(stderr), 2<<10), common.ErrRender)
	}

	if _, statErr := os.Stat(rc.previewPath); statErr == nil {
		return nil
	}
	alt := filepath.Join(r.workDir, rc.p.ID+"-1.png")
	if _, statErr := os.Stat(alt); statErr == nil {
		return os.Rename(alt, rc.previewPath)
	}
	return fmt.Errorf("convert produced no preview: %w", common.ErrRender)
}

func (r *CertRenderer) uploadArtifacts(ctx context.Context, rc *renderContext) error {
	if err := r.putFile(ctx, constants.CertificateKey(rc.p.ID), rc.pptxPath, pptxContentType); err != nil {
		return err
	}
	return r.putFile(ctx, constants.PreviewKey(rc.p.ID), rc.previewPath, "image/png")
}

func (r *CertRenderer) putFile(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return r.store.Put(ctx, key, f, st.Size(), contentType)
}

// cleanup removes every scratch file for this profile id, success or not.
// The cached template and helper scripts are not id-prefixed and survive.
func (r *CertRenderer) cleanup(id string) {
	matches, err := filepath.Glob(filepath.Join(r.workDir, id+"*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("pipeline.render.cleanup_failed", "path", m, "error", err)
		}
	}
}

// Combine downloads the generated certificates for ids, splices them into a
// single deck with the merge helper, and returns the merged bytes.
// Individual download failures are skipped with a warning; only an empty
// batch is a hard failure.
func (r *CertRenderer) Combine(ctx context.Context, ids []string) ([]byte, error) {
	if err := r.ensureWorkspace(ctx, nil); err != nil {
		return nil, err
	}

	var inputs []string
	defer func() {
		for _, p := range inputs {
			os.Remove(p)
		}
	}()
	for _, id := range ids {
		dst := filepath.Join(r.workDir, id+"_combine.pptx")
		if err := storage.FetchToFile(ctx, r.store, constants.CertificateKey(id), dst); err != nil {
			r.logger.Warn("pipeline.combine.skipped", "id", id, "error", err)
			continue
		}
		inputs = append(inputs, dst)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no certificates could be retrieved: %w", common.ErrMerge)
	}

	out := filepath.Join(r.workDir, "combined_"+uuid.New().String()+".pptx")
	defer os.Remove(out)

	scriptPath := filepath.Join(r.workDir, combineScriptName)
	args := append([]string{scriptPath, out}, inputs...)
	if _, stderr, err := r.runner.Run(ctx, r.pythonBin, args...); err != nil {
		return nil, fmt.Errorf("combine helper: %v: %s: %w", err, truncate(string(stderr), 2<<10), common.ErrMerge)
	}

	merged, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read merged deck: %w", err)
	}
	r.logger.Info("pipeline.combine.ok", "requested", len(ids), "merged", len(inputs))
	return merged, nil
}
