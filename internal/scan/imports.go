package scan

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// moduleAliases maps well-known import names to the package name actually
// installed. Applied after root-segment reduction, before counting.
var moduleAliases = map[string]string{
	"yaml":          "pyyaml",
	"PIL":           "pillow",
	"sklearn":       "scikit-learn",
	"cv2":           "opencv-python",
	"Crypto":        "pycryptodome",
	"Cryptodome":    "pycryptodome",
	"bs4":           "beautifulsoup4",
	"dateutil":      "python-dateutil",
	"pkg_resources": "setuptools",
}

// importExtractor parses Python source with tree-sitter and collects imported
// module names. Reused across files; not safe for concurrent use.
type importExtractor struct {
	parser *sitter.Parser
}

func newImportExtractor() *importExtractor {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &importExtractor{parser: p}
}

// Extract returns every module name imported anywhere in src, in document
// order, duplicates included. Imports with an explicit relative level are
// dropped here: they reference the project itself, never an external
// dependency. A syntactically broken file is an error; the caller treats it
// as "no evidence from this file".
func (e *importExtractor) Extract(src []byte) ([]string, error) {
	tree, err := e.parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("syntax error in source")
	}

	var mods []string
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch node.Type() {
		case "import_statement":
			// import a.b, c as d
			for i := 0; i < int(node.NamedChildCount()); i++ {
				child := node.NamedChild(i)
				switch child.Type() {
				case "dotted_name":
					mods = append(mods, child.Content(src))
				case "aliased_import":
					if name := child.ChildByFieldName("name"); name != nil {
						mods = append(mods, name.Content(src))
					}
				}
			}
		case "import_from_statement":
			// from a.b import c, but never "from . import x"
			if mod := node.ChildByFieldName("module_name"); mod != nil && mod.Type() == "dotted_name" {
				mods = append(mods, mod.Content(src))
			}
		}

		for i := 0; i < int(node.NamedChildCount()); i++ {
			stack = append(stack, node.NamedChild(i))
		}
	}
	return mods, nil
}

// NormalizeModule reduces a dotted module path to its root segment, drops
// stdlib and private modules, and applies the alias table. Empty result means
// "not external evidence".
func NormalizeModule(module string) string {
	module = strings.TrimSpace(module)
	if module == "" || strings.HasPrefix(module, ".") {
		return ""
	}
	root := strings.Split(module, ".")[0]
	if root == "" || strings.HasPrefix(root, "_") {
		return ""
	}
	if pythonStdlib[root] {
		return ""
	}
	if pkg, ok := moduleAliases[root]; ok {
		return pkg
	}
	return root
}
