// summary.go
package openapi2mcp

import (
	"fmt"
	"io"
	"sort"
)

// PrintToolSummary prints a human-readable summary of the registered tools.
//
// This function outputs:
//   - Total number of tools
//   - Breakdown by tags showing tool count per tag
//   - One line per tool with its method and path
//
// This is useful for checking what a whitelist, blacklist or prefix produces
// before starting the proxy.
//
// Output example:
//
//	API: Petstore 1.0.0
//	Total tools: 3
//	Tags:
//	  pets: 2
//	  store: 1
//	Tools:
//	  get_pets                       GET /pets
//	  post_pets                      POST /pets
//	  get_store_inventory            GET /store/inventory
func PrintToolSummary(w io.Writer, reg *Registry) {
	tools := reg.List()
	tagCount := map[string]int{}
	for _, t := range tools {
		for _, tag := range t.Operation.Tags {
			tagCount[tag]++
		}
	}

	if doc := reg.Document(); doc != nil && doc.Title != "" {
		fmt.Fprintf(w, "API: %s %s\n", doc.Title, doc.Version)
	}
	fmt.Fprintf(w, "Total tools: %d\n", len(tools))
	if len(tagCount) > 0 {
		tags := make([]string, 0, len(tagCount))
		for tag := range tagCount {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		fmt.Fprintln(w, "Tags:")
		for _, tag := range tags {
			fmt.Fprintf(w, "  %s: %d\n", tag, tagCount[tag])
		}
	}
	if len(tools) > 0 {
		fmt.Fprintln(w, "Tools:")
		for _, t := range tools {
			fmt.Fprintf(w, "  %-30s %s %s\n", t.Name, t.Operation.Method, t.Operation.Path)
		}
	}
}
