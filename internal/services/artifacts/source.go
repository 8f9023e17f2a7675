package artifacts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	xhttp "BizHealth/pkg/http"
)

// Source fetches the raw bytes behind an artifact location.
type Source interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
	Kind() string
}

// FileSource reads local files.
type FileSource struct{}

func (FileSource) Kind() string { return "file" }

func (FileSource) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(location)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, location)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	return b, nil
}

// HTTPSource downloads artifacts over http(s).
type HTTPSource struct {
	Client *xhttp.Client
}

func (HTTPSource) Kind() string { return "http" }

func (s HTTPSource) Fetch(ctx context.Context, location string) ([]byte, error) {
	b, err := s.Client.Get(ctx, location)
	var se *xhttp.StatusError
	if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusGone) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, location)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", location, err)
	}
	return b, nil
}

func isURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Resolve makes location absolute against base. Absolute paths and URLs are returned as-is;
// an empty base leaves relative paths relative to the working directory.
func Resolve(base, location string) (string, error) {
	if isURL(location) || filepath.IsAbs(location) || base == "" {
		return location, nil
	}
	if isURL(base) {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("artifacts base %q: %w", base, err)
		}
		if !strings.HasSuffix(b.Path, "/") {
			b.Path += "/"
		}
		ref, err := url.Parse(location)
		if err != nil {
			return "", fmt.Errorf("artifact location %q: %w", location, err)
		}
		return b.ResolveReference(ref).String(), nil
	}
	return filepath.Join(base, location), nil
}

// sibling resolves a weight shard path written in model.json against the model's location.
func sibling(modelLocation, name string) (string, error) {
	if isURL(modelLocation) {
		u, err := url.Parse(modelLocation)
		if err != nil {
			return "", err
		}
		ref, err := url.Parse(name)
		if err != nil {
			return "", err
		}
		return u.ResolveReference(ref).String(), nil
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	return filepath.Join(filepath.Dir(modelLocation), filepath.FromSlash(path.Clean(name))), nil
}
