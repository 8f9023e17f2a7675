package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"BizHealth/internal/domain/models"
	"BizHealth/internal/domain/repository"
	domsvc "BizHealth/internal/domain/service"
	"BizHealth/internal/services/features"
	"BizHealth/internal/services/nn"
	"BizHealth/internal/services/onnx"
	"BizHealth/internal/services/remote"
	xhttp "BizHealth/pkg/http"
	"BizHealth/pkg/logger"
	"BizHealth/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

var (
	ErrArtifactNotFound  = errors.New("artifacts: not found")
	ErrArtifactMalformed = errors.New("artifacts: malformed")
	// ErrUnsupportedModel is shared with the native engine so either name matches.
	ErrUnsupportedModel = nn.ErrUnsupportedModel
)

const (
	EngineTFJS   = "tfjs"
	EngineONNX   = "onnx"
	EngineRemote = "remote"
)

// Artifact names used in logs and metrics.
const (
	artifactModel  = "model"
	artifactShard  = "shard"
	artifactScaler = "scaler"
	artifactLabels = "labels"
)

type Options struct {
	// Base is a directory or URL prefix for relative locations.
	Base   string
	Model  string
	Scaler string
	Labels string

	Engine       string
	ScalerKind   string
	FetchTimeout time.Duration
	ONNX         onnx.Options
	Remote       remote.Options
}

// Bundle is everything a prediction needs. It is read-only once loaded.
type Bundle struct {
	Model       domsvc.Model
	Normalizer  domsvc.Normalizer
	Scaler      *models.ScalerParams
	Labels      models.LabelClasses
	Engine      string
	Fingerprint string
}

func (b *Bundle) Close() error {
	if b == nil || b.Model == nil {
		return nil
	}
	return b.Model.Close()
}

type Loader struct {
	opts    Options
	client  *xhttp.Client
	file    Source
	http    Source
	metrics repository.Metrics
	log     *logger.Logger
}

// NewLoader creates a loader. A nil client disables http(s) locations; nil metrics and
// logger are replaced by no-ops.
func NewLoader(opts Options, client *xhttp.Client, m repository.Metrics, log *logger.Logger) *Loader {
	if opts.Engine == "" {
		opts.Engine = EngineTFJS
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	l := &Loader{opts: opts, client: client, file: FileSource{}, metrics: m, log: log.With(logger.String("component", "artifacts"))}
	if client != nil {
		l.http = HTTPSource{Client: client}
	}
	return l
}

func (l *Loader) sourceFor(location string) (Source, error) {
	if !isURL(location) {
		return l.file, nil
	}
	if l.http == nil {
		return nil, fmt.Errorf("artifacts: no http client configured for %s", location)
	}
	return l.http, nil
}

func (l *Loader) fetch(ctx context.Context, artifact, location string) ([]byte, error) {
	src, err := l.sourceFor(location)
	if err != nil {
		return nil, err
	}
	b, err := src.Fetch(ctx, location)
	l.metrics.RecordArtifactLoad(artifact, src.Kind(), err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", artifact, err)
	}
	return b, nil
}

// Load fetches the model, scaler and labels concurrently and waits for all three.
// Any failure fails the whole load and nothing is returned.
func (l *Loader) Load(ctx context.Context) (*Bundle, error) {
	start := time.Now()
	if l.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.FetchTimeout)
		defer cancel()
	}

	modelLoc, err := Resolve(l.opts.Base, l.opts.Model)
	if err != nil {
		return nil, err
	}
	scalerLoc, err := Resolve(l.opts.Base, l.opts.Scaler)
	if err != nil {
		return nil, err
	}
	labelsLoc, err := Resolve(l.opts.Base, l.opts.Labels)
	if err != nil {
		return nil, err
	}

	var (
		model                          domsvc.Model
		scaler                         *models.ScalerParams
		labels                         models.LabelClasses
		modelSum, scalerSum, labelsSum []byte
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		model, modelSum, err = l.loadModel(gctx, modelLoc)
		return err
	})
	g.Go(func() error {
		b, err := l.fetch(gctx, artifactScaler, scalerLoc)
		if err != nil {
			return err
		}
		scalerSum = digest(b)
		scaler, err = ParseScaler(b)
		return err
	})
	g.Go(func() error {
		b, err := l.fetch(gctx, artifactLabels, labelsLoc)
		if err != nil {
			return err
		}
		labelsSum = digest(b)
		labels, err = ParseLabels(b)
		return err
	})
	if err := g.Wait(); err != nil {
		if model != nil {
			_ = model.Close()
		}
		return nil, err
	}

	b := &Bundle{
		Model:       model,
		Scaler:      scaler,
		Labels:      labels,
		Engine:      l.opts.Engine,
		Fingerprint: fingerprint(modelSum, scalerSum, labelsSum),
	}
	if err := l.check(b); err != nil {
		_ = b.Close()
		return nil, err
	}

	l.log.Info("artifacts loaded",
		logger.String("engine", b.Engine),
		logger.String("scaler", b.Normalizer.Kind()),
		logger.Int("input_width", model.InputWidth()),
		logger.Int("output_width", model.OutputWidth()),
		logger.Strings("labels", labels),
		logger.String("fingerprint", b.Fingerprint),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return b, nil
}

// check runs the cross-artifact consistency checks and builds the normalizer.
func (l *Loader) check(b *Bundle) error {
	norm, err := features.NewNormalizer(b.Scaler, l.opts.ScalerKind)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArtifactMalformed, artifactScaler, err)
	}
	b.Normalizer = norm

	if in := b.Model.InputWidth(); in > 0 && norm.Width() != in {
		return fmt.Errorf("%w: scaler has %d features, model expects %d", ErrArtifactMalformed, norm.Width(), in)
	}
	// decode fails on this; surface it early too
	if out := b.Model.OutputWidth(); out > 0 && out != len(b.Labels) {
		l.log.Warn("label count does not match model output width",
			logger.Int("labels", len(b.Labels)),
			logger.Int("output_width", out),
		)
	}
	return nil
}

func (l *Loader) loadModel(ctx context.Context, location string) (domsvc.Model, []byte, error) {
	if l.opts.Engine == EngineRemote {
		return l.openRemote(ctx, location)
	}
	raw, err := l.fetch(ctx, artifactModel, location)
	if err != nil {
		return nil, nil, err
	}

	switch l.opts.Engine {
	case EngineTFJS:
		h := sha256.New()
		h.Write(raw)
		m, err := nn.Load(ctx, raw, func(ctx context.Context, name string) ([]byte, error) {
			loc, err := sibling(location, name)
			if err != nil {
				return nil, fmt.Errorf("%w: shard path %q: %v", ErrArtifactMalformed, name, err)
			}
			b, err := l.fetch(ctx, artifactShard, loc)
			if err != nil {
				return nil, err
			}
			// shards are fetched in manifest order, one at a time
			h.Write(b)
			return b, nil
		})
		if errors.Is(err, nn.ErrMalformed) {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrArtifactMalformed, location, err)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("model %s: %w", location, err)
		}
		return m, h.Sum(nil), nil
	case EngineONNX:
		m, err := onnx.Load(raw, l.opts.ONNX)
		if errors.Is(err, onnx.ErrRuntime) {
			return nil, nil, fmt.Errorf("%s: %w", location, err)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrArtifactMalformed, location, err)
		}
		return m, digest(raw), nil
	default:
		return nil, nil, fmt.Errorf("%w: engine %q", ErrUnsupportedModel, l.opts.Engine)
	}
}

// openRemote treats the model location as a predict URL. The fingerprint covers the URL
// only, since the served weights are not visible from here.
func (l *Loader) openRemote(ctx context.Context, location string) (domsvc.Model, []byte, error) {
	if !isURL(location) {
		return nil, nil, fmt.Errorf("%w: remote engine needs an http(s) model location, got %q", ErrUnsupportedModel, location)
	}
	m, err := remote.Open(ctx, location, l.client, l.opts.Remote)
	l.metrics.RecordArtifactLoad(artifactModel, "remote", err)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %w", ErrArtifactNotFound, err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("model %s: %w", location, err)
	}
	return m, digest([]byte(location)), nil
}

// ParseScaler decodes scaler_params.json.
func ParseScaler(b []byte) (*models.ScalerParams, error) {
	var p models.ScalerParams
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMalformed, artifactScaler, err)
	}
	return &p, nil
}

// ParseLabels decodes label_classes.json, a JSON array of strings.
func ParseLabels(b []byte) (models.LabelClasses, error) {
	var labels models.LabelClasses
	if err := json.Unmarshal(b, &labels); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMalformed, artifactLabels, err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: %s: empty label list", ErrArtifactMalformed, artifactLabels)
	}
	return labels, nil
}

func digest(b []byte) []byte {
	s := sha256.Sum256(b)
	return s[:]
}

// fingerprint identifies a bundle by the content of its artifacts.
func fingerprint(sums ...[]byte) string {
	h := sha256.New()
	for _, s := range sums {
		h.Write(s)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
