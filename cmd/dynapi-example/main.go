// Command dynapi-example calls httpbin.org through the library API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/iSoldLeo/DynamicAPI/internal/logx"
	"github.com/iSoldLeo/DynamicAPI/pkg/apiconfig"
	"github.com/iSoldLeo/DynamicAPI/pkg/client"
	"github.com/iSoldLeo/DynamicAPI/pkg/httpclient"
	"github.com/iSoldLeo/DynamicAPI/pkg/mapping"
)

const config = `{
  "globals": {
    "base_url": "https://httpbin.org",
    "headers": {"Accept": "application/json"},
    "timeout": 15
  },
  "param_presets": {
    "client": {"client": "dynapi-example"}
  },
  "operations": {
    "search": {
      "path": "/get",
      "method": "GET",
      "params": {"q": "$query", "page": "$page"},
      "use_presets": ["client"]
    },
    "create_user": {
      "path": "/post",
      "method": "POST",
      "params": {"name": "$name", "age": "$age", "tags": ["$tag", "example"]}
    },
    "user_agent": {
      "path": "/user-agent",
      "method": "GET",
      "response_mapping": "user_agent"
    }
  }
}`

type echo struct {
	Args map[string]string `json:"args"`
	JSON map[string]any    `json:"json"`
	URL  string            `json:"url"`
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := logx.DefaultConfig()
	cfg.Level = "info"
	logger, flush, err := logx.New(cfg)
	if err != nil {
		return err
	}
	defer flush()

	doc, err := apiconfig.Load([]byte(config))
	if err != nil {
		return err
	}

	doer, err := httpclient.New(httpclient.Options{Timeout: 15 * time.Second})
	if err != nil {
		return err
	}

	c := client.New(
		apiconfig.NewResolver(doc, apiconfig.WithLogger(logger)),
		client.WithHTTPClient(doer),
		client.WithLogger(logger),
	)
	c.RegisterMapper("user_agent", mapping.KeyPath{Path: "user-agent"})

	got, err := client.Call[echo](ctx, c, "search", map[string]any{"query": "gophers", "page": 2})
	if err != nil {
		return err
	}
	fmt.Printf("GET  %s\n     args=%v\n", got.URL, got.Args)

	posted, err := client.Call[echo](ctx, c, "create_user", map[string]any{"name": "Bob", "age": 30, "tag": "new"})
	if err != nil {
		return err
	}
	fmt.Printf("POST %s\n     json=%v\n", posted.URL, posted.JSON)

	ua, err := client.Call[string](ctx, c, "user_agent", nil)
	if err != nil {
		return err
	}
	fmt.Printf("UA   %s\n", ua)

	// Missing parameters fail before anything is sent.
	if err := c.Exec(ctx, "search", map[string]any{"query": "x"}); err != nil {
		logger.Info("expected failure", zap.Error(err))
	}
	return nil
}
