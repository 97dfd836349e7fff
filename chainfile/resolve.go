package chainfile

import (
	"context"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-getter"

	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/internal/httpclient"
)

// DefaultFetchTimeout bounds a single remote chain download
const DefaultFetchTimeout = 60 * time.Second

// candidateNames are tried, in order, when a remote source fetches a directory
var candidateNames = []string{"chain.yaml", "chain.yml", "chain.toml"}

// ResolveConfig controls where and how remote chains are fetched
type ResolveConfig struct {
	WorkDir string // Download directory for remote sources

	// HTTPClient serves http(s) sources (nil = SSRF-safer client with DefaultFetchTimeout)
	HTTPClient *httpclient.SaferClient
}

// Resolve returns a local path for src.
//
// Local files pass through (with ~ expanded). Anything go-getter recognises as
// remote (https://..., git::..., s3::..., github.com/...) is fetched into
// cfg.WorkDir. Sources ending in .yaml, .yml or .toml are fetched as a single
// file; a fetched directory must hold chain.yaml, chain.yml or chain.toml.
func Resolve(ctx context.Context, src string, cfg ResolveConfig) (string, error) {
	workDir := cfg.WorkDir
	expanded, err := expandHome(src)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(expanded); err == nil && !info.IsDir() {
		return filepath.Abs(expanded)
	}

	pwd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get working directory")
	}

	detected, err := getter.Detect(expanded, pwd, getter.Detectors)
	if err != nil {
		return "", errors.Wrapf(err, "invalid chain source %q", src)
	}

	u, err := url.Parse(detected)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse chain source")
	}
	if u.Scheme == "file" {
		return "", errors.NewNotFoundError("chain file %s", u.Path)
	}

	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", workDir)
	}

	dst := filepath.Join(workDir, "source")
	if ext := path.Ext(u.Path); ext != "" {
		dst += ext
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.NewSaferClient(DefaultFetchTimeout)
	}
	httpGetter := &getter.HttpGetter{
		Client:                httpClient.Client,
		XTerraformGetDisabled: true,
	}
	getters := maps.Clone(getter.Getters)
	getters["http"] = httpGetter
	getters["https"] = httpGetter

	mode := getter.ClientModeAny
	if _, subDir := getter.SourceDirSubdir(detected); subDir == "" && isChainExt(path.Ext(u.Path)) {
		mode = getter.ClientModeFile
	}

	client := &getter.Client{
		Ctx:     ctx,
		Src:     detected,
		Dst:     dst,
		Pwd:     pwd,
		Mode:    mode,
		Getters: getters,
	}
	if err := client.Get(); err != nil {
		return "", errors.Wrapf(err, "failed to fetch chain %s", src)
	}

	return locateChain(dst, path.Base(u.Path), src)
}

// locateChain finds the chain file at dst. A fetched directory may hold the
// source's own basename or one of candidateNames.
func locateChain(dst, base, src string) (string, error) {
	info, err := os.Stat(dst)
	if err != nil {
		return "", errors.Wrapf(err, "fetched chain %s not found", dst)
	}
	if !info.IsDir() {
		return dst, nil
	}

	names := candidateNames
	if isChainExt(filepath.Ext(base)) {
		names = append([]string{base}, candidateNames...)
	}
	for _, name := range names {
		candidate := filepath.Join(dst, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}
	return "", errors.WithHint(
		errors.NewNotFoundError("chain file in %s", src),
		"remote directories must contain chain.yaml, chain.yml or chain.toml")
}

func isChainExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// expandHome expands a leading ~ (go-getter does not)
func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	if p == "~" {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}
