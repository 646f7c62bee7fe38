package exclude

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const DefaultTemplate = `# twinsync exclusion patterns, one per line
#   *       any characters except /
#   **      any characters including /
#   ?       a single character
#   [abc]   a character class
#   {a,b}   alternatives
#   dir/    trailing slash: directory and everything beneath it
#   /x      leading slash: only at the root of the tree

# Temporary files
*.tmp
*.temp
~*
*~

# OS files
.DS_Store
Thumbs.db
desktop.ini
ehthumbs.db

# Version control
.git/
.svn/
.hg/

# Dependencies and build output
node_modules/
__pycache__/
*.pyc
.cache/
`

// WriteTemplate creates the rule file with DefaultTemplate unless one exists.
// It reports whether a file was written.
func WriteTemplate(root string) (bool, error) {
	path := filepath.Join(root, FileName)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.WriteString(DefaultTemplate); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
