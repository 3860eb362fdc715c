package summarize

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadKeys gathers API keys from an optional keys file (one per line,
// '#' comments allowed) and from numbered environment variables
// (OPENROUTER_API_KEY_1, _2, ...). A missing file is not an error; having
// no keys at all is the caller's problem (New reports ErrNoKeys).
func LoadKeys(path string) ([]string, error) {
	var keys []string

	if strings.TrimSpace(path) != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			sc := bufio.NewScanner(f)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				keys = append(keys, line)
			}
			scanErr := sc.Err()
			_ = f.Close()
			if scanErr != nil {
				return nil, scanErr
			}
		case os.IsNotExist(err):
			// optional
		default:
			return nil, err
		}
	}

	for i := 1; ; i++ {
		key := strings.TrimSpace(os.Getenv(fmt.Sprintf("OPENROUTER_API_KEY_%d", i)))
		if key == "" {
			break
		}
		keys = append(keys, key)
	}
	if key := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")); key != "" {
		keys = append(keys, key)
	}

	return keys, nil
}
