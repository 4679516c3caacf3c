package deploy

import (
	"testing"

	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSanitizerPassesCleanFiles(t *testing.T) {
	err := NewSanitizer().Check(map[string]string{
		"main.tf": `resource "aws_dynamodb_table" "t" { name = "orders" }`,
	})
	require.NoError(t, err)
}

func TestSanitizerRejectsCommandExecution(t *testing.T) {
	cases := map[string]string{
		"local-exec":    `resource "aws_instance" "i" { provisioner "local-exec" { command = "rm -rf /" } }`,
		"remote-exec":   `provisioner "remote-exec" {}`,
		"external data": `data "external" "x" { program = ["sh", "-c", "id"] }`,
		"null_resource": `resource "null_resource" "n" {}`,
	}
	for name, content := range cases {
		err := NewSanitizer().Check(map[string]string{"main.tf": content})
		require.Error(t, err, name)
		require.True(t, appErr.IsCode(err, appErr.CodeValidationFailed), name)
	}
}

func TestSanitizerIsCaseInsensitive(t *testing.T) {
	err := NewSanitizer().Check(map[string]string{
		"main.tf": `PROVISIONER "LOCAL-EXEC" { command = "id" }`,
	})
	require.Error(t, err)
}

func TestSanitizerNamesEveryOffendingFile(t *testing.T) {
	err := NewSanitizer().Check(map[string]string{
		"a.tf": `provisioner "local-exec" {}`,
		"b.tf": `resource "null_resource" "n" {}`,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "a.tf")
	require.Contains(t, err.Error(), "b.tf")
}
