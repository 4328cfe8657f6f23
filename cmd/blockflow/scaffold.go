package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"unicode"

	"github.com/spf13/cobra"
)

func newScaffoldCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "new <BlockType>",
		Short: "Create a block package from the example template",
		Long: `New writes <dir>/<package>/<package>.go and its test, declaring a block
type that registers itself under BlockType and forwards every batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := scaffoldBlock(dir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created block %s in %s\n", args[0], path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "parent directory of the new package")
	return cmd
}

type scaffold struct {
	Package  string
	TypeName string
	Receiver string
}

// scaffoldBlock writes the block package and returns its directory.
func scaffoldBlock(dir, typeName string) (string, error) {
	if typeName == "" || !unicode.IsUpper(rune(typeName[0])) {
		return "", fmt.Errorf("block type %q must start with an upper-case letter", typeName)
	}
	var pkg strings.Builder
	for _, r := range typeName {
		switch {
		case r > unicode.MaxASCII:
			return "", fmt.Errorf("block type %q must be ASCII", typeName)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			pkg.WriteRune(unicode.ToLower(r))
		case r == '_' || r == '-':
		default:
			return "", fmt.Errorf("block type %q contains %q", typeName, r)
		}
	}

	data := scaffold{
		Package:  pkg.String(),
		TypeName: typeName,
		Receiver: strings.ToLower(typeName[:1]),
	}
	target := filepath.Join(dir, data.Package)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("directory '%s' already exists", target)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	files := map[string]*template.Template{
		data.Package + ".go":      blockTemplate,
		data.Package + "_test.go": blockTestTemplate,
	}
	for name, tmpl := range files {
		if err := render(filepath.Join(target, name), tmpl, data); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", name, err)
		}
	}
	return target, nil
}

func render(path string, tmpl *template.Template, data scaffold) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return tmpl.Execute(f, data)
}

var blockTemplate = template.Must(template.New("block").Parse(`package {{.Package}}

import (
	"context"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/discovery"
	"github.com/fluxorio/blockflow/pkg/property"
)

// TypeName is the discovery name of the block.
const TypeName = "{{.TypeName}}"

// Schema declares the block's properties.
var Schema = property.MustSchema(
	property.Version("0.0.1"),
)

func init() {
	discovery.Register(TypeName, New, Schema)
}

type {{.TypeName}} struct {
	block.Base
}

func New() block.Block {
	return &{{.TypeName}}{}
}

func ({{.Receiver}} *{{.TypeName}}) Configure(ctx *block.Context) error {
	return {{.Receiver}}.Base.Configure(ctx)
}

func ({{.Receiver}} *{{.TypeName}}) Start(ctx context.Context) error {
	return {{.Receiver}}.Base.Start(ctx)
}

func ({{.Receiver}} *{{.TypeName}}) ProcessSignals(signals []*core.Signal, inputID string) error {
	return {{.Receiver}}.NotifySignals(signals, core.DefaultTerminal)
}

func ({{.Receiver}} *{{.TypeName}}) Stop(ctx context.Context) error {
	return {{.Receiver}}.Base.Stop(ctx)
}
`))

var blockTestTemplate = template.Must(template.New("test").Parse(`package {{.Package}}

import (
	"testing"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/block/blocktest"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/stretchr/testify/require"
)

func Test{{.TypeName}}_ForwardsBatch(t *testing.T) {
	rec := blocktest.NewRecorder()
	b := New()
	require.NoError(t, block.Configure(b, rec.Context("{{.Package}}", Schema, nil)))

	require.NoError(t, b.ProcessSignals(blocktest.Signals(3), core.DefaultTerminal))
	require.Len(t, rec.Calls(), 1)
}
`))
