// Package catalog holds the load-once permission catalog.
//
// A catalog is a set of permission groups plus the dependency edges between
// permissions ("posts.write requires posts.read"). It is validated once when
// it is built and never changes afterwards: duplicate ids, edges that point at
// unknown permissions and dependency cycles are all rejected with a
// *ValidationError, which callers should treat as fatal at startup.
//
// # Closures
//
// For every permission the catalog precomputes its transitive prerequisites
// and its transitive dependents. The resolver in pkg/rbac relies on these to
// cascade a single toggle to a fixed point without walking the graph again:
//
//	cat := catalog.Default()
//	cat.Prerequisites("posts.delete") // [posts.read posts.write]
//	cat.Dependents("posts.read")      // [posts.write posts.publish posts.delete]
//
// # Files
//
// Catalogs can be described in YAML and loaded with LoadFile:
//
//	groups:
//	  - name: Content
//	    icon: file-text
//	    permissions:
//	      - id: posts.read
//	        label: View posts
//	dependencies:
//	  - permission: posts.write
//	    requires: posts.read
//	    message: Editing posts requires reading them
package catalog
