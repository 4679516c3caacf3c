package deploy

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/archflow/engine/pkg/logger"
	"github.com/archflow/engine/pkg/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// zipRefRe finds Lambda code references like filename = "handler.zip".
var zipRefRe = regexp.MustCompile(`filename\s*=\s*"([A-Za-z0-9_\-./]+\.zip)"`)

// routeTargetRe finds API Gateway route targets written as a bare
// integration id reference. Terraform requires the integrations/ prefix.
var routeTargetRe = regexp.MustCompile(`target\s*=\s*(aws_apigatewayv2_integration\.[A-Za-z0-9_\-]+\.id)\b`)

// placeholderHandler is the Lambda stub packed into generated zip archives
// so a first apply succeeds before any real code is uploaded.
const placeholderHandler = "def handler(event, context):\n    return {\"statusCode\": 200, \"body\": \"placeholder\"}\n"

// Workspaces manages per-project Terraform working directories under one
// base path. Each project gets exactly one directory; state files and the
// provider cache survive rewrites of the generated sources.
type Workspaces struct {
	base  string
	guard *Guard
}

func NewWorkspaces(base string, guard *Guard) (*Workspaces, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "create workspaces dir failed")
	}
	return &Workspaces{base: base, guard: guard}, nil
}

// Dir returns the project's workspace path. The directory name is the
// project UUID, nothing attacker-controlled.
func (w *Workspaces) Dir(projectID uuid.UUID) string {
	return filepath.Join(w.base, projectID.String())
}

// WriteFiles materializes generated Terraform into the project workspace.
// It refuses to touch a workspace while a deployment run holds it: a
// half-rewritten directory under a running terraform would corrupt the run.
func (w *Workspaces) WriteFiles(ctx context.Context, projectID uuid.UUID, files map[string]string) error {
	if w.guard != nil && w.guard.Held(ctx, projectID) {
		return appErr.New(appErr.CodeWorkspaceBusy, "workspace is held by a running deployment")
	}
	return w.writeFiles(projectID, files)
}

// fingerprintFile records the digest of the last materialized file set. The
// leading dot keeps it clear of clearGenerated and of safeFileName inputs.
const fingerprintFile = ".tf-fingerprint"

// writeFiles is the unguarded write path used by the deploy engine itself,
// which already holds the project's run slot.
func (w *Workspaces) writeFiles(projectID uuid.UUID, files map[string]string) error {
	dir := w.Dir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create workspace failed")
	}

	fp := utils.FingerprintFiles(files)
	if prev, err := os.ReadFile(filepath.Join(dir, fingerprintFile)); err == nil && string(prev) == fp {
		// identical file set already on disk, keep the provider cache warm
		return ensureLambdaZips(dir, files)
	}

	if err := clearGenerated(dir); err != nil {
		return err
	}

	for name, content := range files {
		clean, err := safeFileName(name)
		if err != nil {
			return err
		}
		if strings.HasSuffix(clean, ".tf") {
			content = fixRouteTargets(content)
		}
		if err := os.WriteFile(filepath.Join(dir, clean), []byte(content), 0o644); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, fmt.Sprintf("write %s failed", clean))
		}
	}

	if err := os.WriteFile(filepath.Join(dir, fingerprintFile), []byte(fp), 0o644); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "write workspace fingerprint failed")
	}
	return ensureLambdaZips(dir, files)
}

// safeFileName rejects anything that could escape the workspace directory.
func safeFileName(name string) (string, error) {
	if name == "" || name != filepath.Base(name) ||
		strings.Contains(name, "..") || strings.HasPrefix(name, ".") {
		return "", appErr.New(appErr.CodeInvalid, fmt.Sprintf("illegal file name %q", name))
	}
	return name, nil
}

// clearGenerated removes previously generated sources while preserving
// terraform state, lock file, and the provider cache.
func clearGenerated(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "read workspace failed")
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".terraform") || strings.HasPrefix(name, "terraform.tfstate") {
			continue
		}
		if strings.HasSuffix(name, ".tf") || strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".tf.json") {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return appErr.Wrap(err, appErr.CodeInternal, "clear workspace failed")
			}
		}
	}
	return nil
}

// fixRouteTargets rewrites bare API Gateway integration references into the
// integrations/ form Terraform requires for route targets.
func fixRouteTargets(content string) string {
	return routeTargetRe.ReplaceAllString(content, `target = "integrations/${$1}"`)
}

// ensureLambdaZips creates a placeholder archive for every zip the sources
// reference but nothing provided, so terraform apply does not fail on a
// missing file.
func ensureLambdaZips(dir string, files map[string]string) error {
	needed := map[string]struct{}{}
	for name, content := range files {
		if !strings.HasSuffix(name, ".tf") {
			continue
		}
		for _, m := range zipRefRe.FindAllStringSubmatch(content, -1) {
			ref := filepath.Base(m[1])
			if _, provided := files[ref]; !provided {
				needed[ref] = struct{}{}
			}
		}
	}
	for ref := range needed {
		path := filepath.Join(dir, ref)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := writePlaceholderZip(path); err != nil {
			return err
		}
		logger.L().Debug("wrote placeholder lambda archive", zap.String("path", path))
	}
	return nil
}

func writePlaceholderZip(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create placeholder archive failed")
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entry, err := zw.Create("index.py")
	if err != nil {
		zw.Close()
		return appErr.Wrap(err, appErr.CodeInternal, "write placeholder archive failed")
	}
	if _, err := entry.Write([]byte(placeholderHandler)); err != nil {
		zw.Close()
		return appErr.Wrap(err, appErr.CodeInternal, "write placeholder archive failed")
	}
	if err := zw.Close(); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "write placeholder archive failed")
	}
	return nil
}
