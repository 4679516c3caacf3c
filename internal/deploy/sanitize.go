package deploy

import (
	"fmt"
	"sort"
	"strings"

	appErr "github.com/archflow/engine/pkg/errors"
)

// dangerousPatterns are HCL constructs that execute arbitrary commands on
// the host running Terraform. Generated code carrying any of these is
// rejected outright, it never reaches a workspace.
var dangerousPatterns = []string{
	`provisioner "local-exec"`,
	`provisioner "remote-exec"`,
	`provisioner "file"`,
	`data "external"`,
	`resource "null_resource"`,
	`local_file`,
}

// Sanitizer screens generated Terraform before it touches disk.
type Sanitizer struct{}

func NewSanitizer() *Sanitizer { return &Sanitizer{} }

// Check returns an error naming every file containing a forbidden construct.
func (s *Sanitizer) Check(files map[string]string) error {
	var findings []string
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		content := strings.ToLower(files[name])
		for _, p := range dangerousPatterns {
			if strings.Contains(content, p) {
				findings = append(findings, fmt.Sprintf("%s contains %q", name, p))
			}
		}
	}
	if len(findings) == 0 {
		return nil
	}
	return appErr.New(appErr.CodeValidationFailed, "unsafe terraform rejected: "+strings.Join(findings, "; "))
}
