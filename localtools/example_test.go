package localtools_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonwraymond/toolflight/localtools"
)

func ExampleRegistry_Invoke() {
	root, _ := os.MkdirTemp("", "workspace")
	defer os.RemoveAll(root)
	_ = os.WriteFile(filepath.Join(root, "notes.txt"), []byte("alpha\nbeta\n"), 0o644)

	reg, _ := localtools.New(localtools.Config{Root: root})
	out, _ := reg.Invoke(context.Background(), "grep_files", json.RawMessage(`{"pattern":"^b"}`))
	fmt.Print(string(out))
	// Output:
	// notes.txt:2:beta
}
