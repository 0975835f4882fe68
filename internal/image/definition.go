package image

import (
	"bytes"
	"crypto/md5"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultPrefix starts every image and container name this package derives.
const DefaultPrefix = "redisbox-"

//go:embed definitions/Dockerfile*
var definitions embed.FS

// ErrUnknownVariant is returned for a Variant with no build definition.
var ErrUnknownVariant = errors.New("unknown server variant")

// Variant selects the server protocol generation and therefore the build
// definition.
type Variant string

const (
	VariantV5 Variant = "v5"
	VariantV4 Variant = "v4"
)

// ParseVariant accepts "v4"/"4" and "v5"/"5"; empty selects VariantV5.
func ParseVariant(raw string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "v5", "5":
		return VariantV5, nil
	case "v4", "4":
		return VariantV4, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownVariant, raw)
	}
}

func (v Variant) fileName() (string, error) {
	switch v {
	case "", VariantV5:
		return "Dockerfile5", nil
	case VariantV4:
		return "Dockerfile4", nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownVariant, string(v))
	}
}

// Definition is an immutable build definition together with its content
// hash.
type Definition struct {
	Variant  Variant
	FileName string
	Content  []byte
	Hash     string
}

// Load reads the embedded build definition for v.
func Load(v Variant) (Definition, error) {
	name, err := v.fileName()
	if err != nil {
		return Definition{}, err
	}
	content, err := definitions.ReadFile(path.Join("definitions", name))
	if err != nil {
		return Definition{}, fmt.Errorf("read build definition %s: %w", name, err)
	}
	if v == "" {
		v = VariantV5
	}
	return NewDefinition(v, name, content), nil
}

// NewDefinition wraps arbitrary build definition content.
func NewDefinition(v Variant, fileName string, content []byte) Definition {
	sum := md5.Sum(content)
	return Definition{
		Variant:  v,
		FileName: fileName,
		Content:  append([]byte(nil), content...),
		Hash:     hex.EncodeToString(sum[:]),
	}
}

// ImageName is prefix + content hash; identical definitions share an image.
func (d Definition) ImageName(prefix string) string {
	return prefix + d.Hash
}

// ContainerName is prefix + content hash + a random suffix, unique per call.
func (d Definition) ContainerName(prefix string) string {
	return prefix + d.Hash + randomSuffix()
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Materialize writes the definition under root/<prefix+hash>/ and returns
// that directory for use as the build context. An existing identical file is
// left untouched.
func (d Definition) Materialize(root, prefix string) (string, error) {
	dir := filepath.Join(root, d.ImageName(prefix))
	target := filepath.Join(dir, d.FileName)
	if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, d.Content) {
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create build dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, d.FileName+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp definition: %w", err)
	}
	tmpName := tmp.Name()
	cleaned := false
	defer func() {
		if !cleaned {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(d.Content); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write temp definition: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp definition: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("rename temp definition: %w", err)
	}
	cleaned = true
	return dir, nil
}

// DefaultBuildRoot is where definitions are materialized when the caller
// does not choose a directory.
func DefaultBuildRoot() string {
	if dir, err := os.UserCacheDir(); err == nil && strings.TrimSpace(dir) != "" {
		return filepath.Join(dir, "redisbox")
	}
	return filepath.Join(os.TempDir(), "redisbox")
}
