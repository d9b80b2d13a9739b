//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// DefaultONNXRuntimeVersion matches the onnxruntime_go binding in go.mod.
const DefaultONNXRuntimeVersion = "1.23.0"

// ErrUnsupportedPlatform indicates no ONNX release exists for this OS/arch.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// onnxRelease names one upstream onnxruntime tarball.
type onnxRelease struct {
	version  string
	platform string
}

func currentRelease() (onnxRelease, error) {
	platform, ok := map[string]string{
		"linux/amd64":  "linux-x64",
		"linux/arm64":  "linux-aarch64",
		"darwin/amd64": "osx-x86_64",
		"darwin/arm64": "osx-arm64",
	}[runtime.GOOS+"/"+runtime.GOARCH]
	if !ok {
		return onnxRelease{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
	}
	return onnxRelease{version: DefaultONNXRuntimeVersion, platform: platform}, nil
}

func (r onnxRelease) dirName() string {
	return fmt.Sprintf("onnxruntime-%s-%s", r.platform, r.version)
}

func (r onnxRelease) url() string {
	return fmt.Sprintf("https://github.com/microsoft/onnxruntime/releases/download/v%s/%s.tgz", r.version, r.dirName())
}

func libraryName() string {
	if runtime.GOOS == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

func onnxInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "learnloop", "lib")
}

// ONNXLibraryPath returns $ONNX_PATH, else the managed install if present,
// else "".
func ONNXLibraryPath() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	managed := filepath.Join(onnxInstallDir(), libraryName())
	if _, err := os.Stat(managed); err != nil {
		return ""
	}
	return managed
}

// EnsureONNXRuntime makes sure fastembed-go can find the ONNX runtime,
// downloading the release for this platform on first use. It returns the
// library path and exports it as ONNX_PATH.
func EnsureONNXRuntime(ctx context.Context, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lib := ONNXLibraryPath()
	if lib == "" {
		rel, err := currentRelease()
		if err != nil {
			return "", err
		}
		logger.Info("downloading ONNX runtime", zap.String("release", rel.dirName()))
		if err := installRelease(ctx, rel, onnxInstallDir()); err != nil {
			return "", fmt.Errorf("downloading ONNX runtime (set ONNX_PATH to skip): %w", err)
		}
		if lib = ONNXLibraryPath(); lib == "" {
			return "", errors.New("ONNX runtime installed but library not found")
		}
	}
	return lib, os.Setenv("ONNX_PATH", lib)
}

func installRelease(ctx context.Context, rel onnxRelease, dest string) error {
	if err := os.MkdirAll(dest, 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rel.url(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return unpackLibraries(resp.Body, rel.dirName()+"/lib", dest)
}

// unpackLibraries copies the regular files and symlinks found directly
// under libDir in a gzipped tarball into dest. Entry names are reduced to
// their base name, so nothing lands outside dest.
func unpackLibraries(r io.Reader, libDir, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gz.Close()

	want := libraryName()
	var haveLib bool
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if path.Dir(name) != libDir {
			continue
		}
		base := path.Base(name)
		target := filepath.Join(dest, base)
		haveLib = haveLib || strings.HasPrefix(base, want)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := os.Symlink(path.Base(hdr.Linkname), target); err != nil {
				return fmt.Errorf("linking %s: %w", base, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr); err != nil {
				return err
			}
		}
	}
	if !haveLib {
		return fmt.Errorf("library %s not found in archive", want)
	}
	return nil
}

// writeFile writes through a temp file so a failed download never leaves a
// truncated library behind.
func writeFile(target string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".onnx-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(target), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}
