package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
)

// fileCacheTTL bounds how long a resolved {file:} secret's contents are
// reused across repeated interpolation calls before the file is re-read,
// mirroring the teacher's cache-in-front-of-store shape.
const fileCacheTTL = 10 * time.Second

// fileSecretCache holds resolved {file:PATH} contents so that repeated
// per-request interpolation of the same secret file doesn't re-stat/open it
// on every call. Keyed by the resolved, symlink-checked absolute path.
var fileSecretCache = mustNewFileCache()

func mustNewFileCache() *otter.Cache[string, string] {
	c, err := otter.New[string, string](&otter.Options[string, string]{
		MaximumSize:      256,
		ExpiryCalculator: otter.ExpiryWriting[string, string](fileCacheTTL),
	})
	if err != nil {
		panic(fmt.Sprintf("config: build file secret cache: %v", err))
	}
	return c
}

// Redacted is the sentinel substituted for any secret-sourced value.
const Redacted = "***REDACTED***"

// coreEnvPatterns is the fixed allowlist of environment variable names that
// may be referenced via {env:VAR}. Unlisted variables are refused even if
// they exist, so that an operator cannot smuggle an arbitrary process
// secret into a rendered config by name alone.
var coreEnvPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^LOA_`),
	regexp.MustCompile(`^OPENAI_API_KEY$`),
	regexp.MustCompile(`^ANTHROPIC_API_KEY$`),
	regexp.MustCompile(`^MOONSHOT_API_KEY$`),
	regexp.MustCompile(`^CHEVAL_`),
}

var interpRE = regexp.MustCompile(`\{(env|file):([^}]+)\}`)

var sensitiveKeyRE = regexp.MustCompile(`(?i)(auth|key|secret|token|password|credential|bearer)`)

// Resolver interpolates {env:VAR} and {file:PATH} references inside a
// configuration tree, enforcing the same allowlist and file-safety checks as
// the original config loader.
type Resolver struct {
	ProjectRoot     string
	ExtraEnvPattern []*regexp.Regexp
	AllowedFileDirs []string
}

// NewResolver returns a Resolver rooted at projectRoot.
func NewResolver(projectRoot string) *Resolver {
	if projectRoot == "" {
		projectRoot = "."
	}
	return &Resolver{ProjectRoot: projectRoot}
}

func (r *Resolver) envAllowed(name string) bool {
	for _, p := range coreEnvPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	for _, p := range r.ExtraEnvPattern {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// checkFileAllowed validates and resolves a secret file path: it must live
// under ProjectRoot/.loa.config.d or one of AllowedFileDirs, must not be a
// symlink (checked before and after resolution), must exist, must be owned
// by the current user, and must carry mode <= 0o640.
func (r *Resolver) checkFileAllowed(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.ProjectRoot, path)
	}

	if lst, err := os.Lstat(path); err == nil && lst.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("secret file must not be a symlink: %s", path)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("secret file not found: %s", path)
	}

	allowedDirs := append([]string{filepath.Join(r.ProjectRoot, ".loa.config.d")}, r.AllowedFileDirs...)
	inAllowed := false
	for _, dir := range allowedDirs {
		resolvedDir, err := filepath.EvalSymlinks(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(resolvedDir, resolved)
		if err == nil && !strings.HasPrefix(rel, "..") {
			inAllowed = true
			break
		}
	}
	if !inAllowed {
		return "", fmt.Errorf("secret file %q not in allowed directories: .loa.config.d/ or configured secret paths", path)
	}

	if lst, err := os.Lstat(resolved); err == nil && lst.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("secret file is a symlink (rejected for security): %s", resolved)
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("secret file not found: %s", resolved)
	}

	if err := checkOwnerAndMode(resolved, info); err != nil {
		return "", err
	}

	return resolved, nil
}

// InterpolateValue resolves every {env:...}/{file:...} token in value.
func (r *Resolver) InterpolateValue(value string) (string, error) {
	var outerErr error
	out := interpRE.ReplaceAllStringFunc(value, func(tok string) string {
		m := interpRE.FindStringSubmatch(tok)
		kind, ref := m[1], m[2]
		switch kind {
		case "env":
			if !r.envAllowed(ref) {
				outerErr = fmt.Errorf("environment variable %q is not in the allowlist", ref)
				return tok
			}
			val, ok := os.LookupEnv(ref)
			if !ok {
				outerErr = fmt.Errorf("environment variable %q is not set", ref)
				return tok
			}
			return val
		case "file":
			resolved, err := r.checkFileAllowed(ref)
			if err != nil {
				outerErr = err
				return tok
			}
			if cached, ok := fileSecretCache.GetIfPresent(resolved); ok {
				return cached
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				outerErr = err
				return tok
			}
			val := strings.TrimSpace(string(data))
			fileSecretCache.Set(resolved, val)
			return val
		}
		outerErr = fmt.Errorf("unknown interpolation type: %s", kind)
		return tok
	})
	if outerErr != nil {
		return "", outerErr
	}
	return out, nil
}

// Interpolate recursively resolves interpolation tokens throughout a config
// tree built from map[string]any / []any / string / scalar values, as
// produced by decoding YAML or JSON into `any`.
func (r *Resolver) Interpolate(node any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			resolved, err := r.Interpolate(val)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.Interpolate(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		if interpRE.MatchString(v) {
			return r.InterpolateValue(v)
		}
		return v, nil
	default:
		return v, nil
	}
}

// DeepMerge merges overlay into base, overlay values winning. Nested maps
// merge recursively; every other type (including slices) is an overlay-wins
// overwrite. Neither argument is mutated.
func DeepMerge(base, overlay map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		if bv, ok := result[k].(map[string]any); ok {
			if ov, ok := v.(map[string]any); ok {
				result[k] = DeepMerge(bv, ov)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// RedactConfig returns a copy of config safe for logging: values sourced
// from {env:}/{file:} tokens are replaced with an annotated redaction marker,
// and any key matching the sensitive-name pattern is fully redacted.
func RedactConfig(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for k, v := range node {
		switch val := v.(type) {
		case map[string]any:
			out[k] = RedactConfig(val)
		case string:
			if matches := interpRE.FindAllStringSubmatch(val, -1); len(matches) > 0 {
				var annotations []string
				for _, m := range matches {
					annotations = append(annotations, m[1]+":"+m[2])
				}
				out[k] = Redacted + " (from " + strings.Join(annotations, ", ") + ")"
			} else if sensitiveKeyRE.MatchString(k) {
				out[k] = Redacted
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

// RedactHeaders returns a copy of headers with sensitive-named keys redacted.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveKeyRE.MatchString(k) {
			out[k] = Redacted
		} else {
			out[k] = v
		}
	}
	return out
}

var (
	bearerRE = regexp.MustCompile(`(?i)(Authorization:\s*Bearer\s+)\S+`)
	apiKeyRE = regexp.MustCompile(`(?i)(x-api-key:\s*)\S+`)
)

// RedactString scrubs known secret env-var values and bearer/API-key headers
// out of a free-form log string.
func RedactString(value string) string {
	result := value
	for _, name := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "MOONSHOT_API_KEY"} {
		if val := os.Getenv(name); val != "" && strings.Contains(result, val) {
			result = strings.ReplaceAll(result, val, Redacted)
		}
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "LOA_") || len(v) <= 8 {
			continue
		}
		if strings.Contains(result, v) {
			result = strings.ReplaceAll(result, v, Redacted)
		}
	}
	result = bearerRE.ReplaceAllString(result, "${1}"+Redacted)
	result = apiKeyRE.ReplaceAllString(result, "${1}"+Redacted)
	return result
}
