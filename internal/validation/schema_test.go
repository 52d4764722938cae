package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"
)

const validManifest = `{
  "project": {"name": "todo-api", "language": "go"},
  "files": [
    {"path": "cmd/todo/main.go", "description": "entry point", "exports": ["main"]},
    {"path": "internal/store/store.go", "description": "storage"}
  ],
  "notes": "extra keys are allowed"
}`

func loadSchema(t *testing.T) *Schema {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "project-manifest-schema.json"))
	require.NoError(t, err)

	sch, err := Compile("project-manifest-schema.json", data)
	require.NoError(t, err)
	return sch
}

func mustJSON(t *testing.T, doc string) any {
	t.Helper()
	v, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	require.NoError(t, err)
	return v
}

func TestValidate_Valid(t *testing.T) {
	sch := loadSchema(t)

	errs := sch.Validate(mustJSON(t, validManifest))
	require.Empty(t, errs, "valid manifest should have no errors")
}

func TestValidate_MissingRequiredFieldIsNamed(t *testing.T) {
	sch := loadSchema(t)

	errs := sch.Validate(mustJSON(t, `{"project": {"name": "todo-api"}, "files": [{"path": "a.go", "description": "a"}]}`))
	require.NotEmpty(t, errs)

	joined := strings.Join(errs, "\n")
	require.Contains(t, joined, "language")
	require.Contains(t, joined, "/project")
}

func TestValidate_TypesEnumsAndNesting(t *testing.T) {
	sch := loadSchema(t)

	errs := sch.Validate(mustJSON(t, `{
	  "project": {"name": "", "language": "cobol"},
	  "files": [{"path": 7, "description": "bad path"}]
	}`))
	require.NotEmpty(t, errs)

	joined := strings.Join(errs, "\n")
	require.Contains(t, joined, "/project/language")
	require.Contains(t, joined, "/project/name")
	require.Contains(t, joined, "/files/0/path")
}

func TestValidate_NonObjectPayload(t *testing.T) {
	sch := loadSchema(t)

	require.NotEmpty(t, sch.Validate(mustJSON(t, `[1, 2, 3]`)))
	require.NotEmpty(t, sch.Validate("just a string"))
	require.NotEmpty(t, sch.Validate(nil))
}

func TestValidate_IsIdempotent(t *testing.T) {
	sch := loadSchema(t)
	payload := mustJSON(t, `{"project": {"language": "rust"}, "files": []}`)

	first := sch.Validate(payload)
	second := sch.Validate(payload)

	require.NotEmpty(t, first)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("violations changed between runs (-first +second):\n%s", diff)
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile("empty.json", []byte("  "))
	require.ErrorContains(t, err, "empty")

	_, err = Compile("broken.json", []byte(`{"type": `))
	require.ErrorContains(t, err, "parsing schema")

	_, err = Compile("bad-type.json", []byte(`{"type": 12}`))
	require.ErrorContains(t, err, "compiling schema")
}

func TestValidateFile(t *testing.T) {
	sch := loadSchema(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(good, []byte(validManifest), 0o644))
	errs, err := sch.ValidateFile(good)
	require.NoError(t, err)
	require.Empty(t, errs)

	notJSON := filepath.Join(dir, "manifest.md")
	require.NoError(t, os.WriteFile(notJSON, []byte("# not json"), 0o644))
	errs, err = sch.ValidateFile(notJSON)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "JSON parse error")

	_, err = sch.ValidateFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
