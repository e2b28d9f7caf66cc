package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

func loadAllPackages(t *testing.T) []*packages.Package {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "dbkit/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	return pkgs
}

// TestOnlyBlobPackageImportsInfra ensures that only the top-level blob
// package wraps the infra-backed implementations. Other packages must depend
// on the blob.Store interface instead of importing infra packages directly.
func TestOnlyBlobPackageImportsInfra(t *testing.T) {
	infraPrefix := "dbkit/internal/infra/blob"
	allowedPrefix := "dbkit/internal/blob"

	var violations []string
	for _, pkg := range loadAllPackages(t) {
		if strings.HasPrefix(pkg.PkgPath, allowedPrefix) || strings.HasPrefix(pkg.PkgPath, infraPrefix) {
			continue
		}
		for importPath := range pkg.Imports {
			if importPath == infraPrefix || strings.HasPrefix(importPath, infraPrefix+"/") {
				violations = append(violations, pkg.PkgPath+": "+importPath)
			}
		}
	}

	reportViolations(t, "forbidden import of infra blob package", violations)
}

// TestLibraryPackagesStayOutOfInternal keeps the exported library surface
// (pkg/...) free of dependencies on internal tooling so that the packages
// remain importable in isolation.
func TestLibraryPackagesStayOutOfInternal(t *testing.T) {
	for _, pkg := range loadAllPackages(t) {
		if !strings.HasPrefix(pkg.PkgPath, "dbkit/pkg/") {
			continue
		}
		var violations []string
		for importPath := range pkg.Imports {
			if strings.HasPrefix(importPath, "dbkit/internal/") {
				violations = append(violations, pkg.PkgPath+": "+importPath)
			}
		}
		reportViolations(t, "library package imports internal package", violations)
	}
}

func reportViolations(t *testing.T, label string, violations []string) {
	t.Helper()
	if len(violations) == 0 {
		return
	}
	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("%s: %s", label, v)
	}
	t.Fatalf("found %d violations", len(violations))
}
