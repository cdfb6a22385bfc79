package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys. The first name in each pair wins.
var (
	envTelegramToken = []string{"COEFBOT_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"}
	envUpstreamToken = []string{"COEFBOT_UPSTREAM_TOKEN", "WB_SUPPLY_API_TOKEN"}
	envUpstreamURL   = []string{"COEFBOT_UPSTREAM_URL", "WB_SUPPLY_API_URL"}
	envRecipients    = []string{"COEFBOT_RECIPIENTS", "RECIEVER_IDS"}
)

// readEnvFile returns the key/values of a dotenv file. A missing file is
// not an error.
func readEnvFile(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	return vals, nil
}

// lookup prefers the process environment over the dotenv file.
func lookup(file map[string]string, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	for _, k := range keys {
		if v, ok := file[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// applyEnv overlays secrets and deployment settings onto cfg.
func applyEnv(cfg *Config, file map[string]string) error {
	if v, ok := lookup(file, envTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := lookup(file, envUpstreamToken); ok {
		cfg.Upstream.Token = v
	}
	if v, ok := lookup(file, envUpstreamURL); ok {
		cfg.Upstream.URL = v
	}
	if v, ok := lookup(file, envRecipients); ok {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envRecipients[0], err)
		}
		cfg.Telegram.Recipients = ids
	}
	return nil
}

// parseIDList accepts comma, semicolon or whitespace separated chat ids.
func parseIDList(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", f)
		}
		out = append(out, id)
	}
	return out, nil
}
