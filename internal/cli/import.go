package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/iSoldLeo/DynamicAPI/internal/config"
	"github.com/iSoldLeo/DynamicAPI/internal/converter"
	"github.com/iSoldLeo/DynamicAPI/pkg/httpclient"
)

// ImportOptions controls Import.
type ImportOptions struct {
	// Source is a file path or http(s) URL of an OpenAPI 3 document.
	Source  string
	BaseURL string
	// Format is json or yaml. Empty picks from the Dest extension, else yaml.
	Format string
	// Dest is the output file; empty writes to w.
	Dest string

	Doer httpclient.HTTPDoer
}

// Import converts an OpenAPI document into an API document.
func Import(ctx context.Context, opts ImportOptions, settings *config.Settings, logger *zap.Logger, w io.Writer) error {
	doer := opts.Doer
	if doer == nil {
		built, err := httpclient.New(httpclient.Options{TLS: settings.TLS})
		if err != nil {
			return err
		}
		doer = built
	}

	spec, err := converter.LoadOpenAPISpec(ctx, doer, opts.Source)
	if err != nil {
		return fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}
	doc, err := converter.FromOpenAPI(spec, converter.Options{BaseURL: opts.BaseURL, Logger: logger})
	if err != nil {
		return err
	}

	format := opts.Format
	if format == "" {
		format = FormatYAML
		if strings.EqualFold(filepath.Ext(opts.Dest), ".json") {
			format = FormatJSON
		}
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	case FormatYAML:
		data, err = yaml.Marshal(doc)
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
	if err != nil {
		return err
	}

	if opts.Dest == "" {
		_, err = w.Write(data)
		return err
	}
	if err := os.WriteFile(opts.Dest, data, config.FilePermissions); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.Dest, err)
	}
	fmt.Fprintf(os.Stderr, "Imported %d operations into %s\n", len(doc.Operations), opts.Dest)
	return nil
}
