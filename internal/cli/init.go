package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/grantwatch/internal/config"
	"github.com/spf13/cobra"
)

// exampleSitesFile is the CSV site list written by init.
const exampleSitesFile = "sites_list.csv"

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	Args:  cobra.NoArgs,
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0
	files := []struct {
		name string
		data string
	}{
		{config.DefaultConfigFile, exampleConfig},
		{exampleSitesFile, exampleSites},
	}
	for _, f := range files {
		wrote, err := writeIfNotExists(filepath.Join(configDir, f.name), []byte(f.data))
		if err != nil {
			return err
		}
		if wrote {
			created++
		}
	}

	if created == 0 {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# grantwatch configuration

# Sources are scraped and announced in this order.
sources:
  - name: JIA
    url: https://www.jia.or.jp/competition/
    kind: article
  # - name: Example ministry
  #   url: https://example.go.jp/koubo/
  #   kind: generic
  #   params:
  #     item_selector: "ul.list li"
  #     title_selector: "a"
  #     link_selector: "a"
  #     status_selector: ".status"
  #     status_text: "公募中"
  # - name: Example feed
  #   url: https://example.org/news/feed.xml
  #   kind: rss

# More sources can be listed in a CSV file (see sites_list.csv).
# sources_csv: sites_list.csv

notify:
  webhook_url_env: DISCORD_WEBHOOK_URL
  username: 公募情報
  header: "**新着情報**"
  max_len: 1900
  timeout: 30s

fetch:
  timeout: 30s
  retries: 3
  retry_statuses: [500, 502, 503, 504]
  backoff: 1s
  parallel: 4

storage:
  driver: json        # json | sqlite | redis
  path: posted.json   # relative to this directory
  # redis:
  #   address: localhost:6379
  #   password_env: REDIS_PASSWORD
  #   key: grantwatch:seen

log:
  level: info
  format: console
`

const exampleSites = `サイト名,URL,パーサータイプ,item_selector,title_selector,link_selector,status_selector,status_text
Example ministry,https://example.go.jp/koubo/,generic,ul.list li,a,a,.status,公募中
`
