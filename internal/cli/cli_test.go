package cli

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/temirov/repolens/internal/utils"
)

const testConfigurationTemplate = `workspace:
  root: %s
repository:
  allow_file_protocol: true
cache:
  path: %s
logging:
  level: error
`

type recordingCopier struct {
	copied []string
}

func (copier *recordingCopier) Copy(text string) error {
	copier.copied = append(copier.copied, text)
	return nil
}

// createSourceRepository initializes a local repository with one Python file and returns its file URL and head hash.
func createSourceRepository(t *testing.T) (string, string) {
	t.Helper()
	if _, lookupErr := exec.LookPath("git"); lookupErr != nil {
		t.Skip("git binary is required for the file transport")
	}
	sourceDirectory := t.TempDir()
	sourceRepository, initErr := git.PlainInit(sourceDirectory, false)
	if initErr != nil {
		t.Fatalf("init: %v", initErr)
	}
	if err := os.MkdirAll(filepath.Join(sourceDirectory, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sourceDirectory, "src", "a.py"), []byte("print('hello')\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	worktree, worktreeErr := sourceRepository.Worktree()
	if worktreeErr != nil {
		t.Fatalf("worktree: %v", worktreeErr)
	}
	if _, addErr := worktree.Add("src/a.py"); addErr != nil {
		t.Fatalf("add: %v", addErr)
	}
	commitHash, commitErr := worktree.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Unix(1700000000, 0)},
	})
	if commitErr != nil {
		t.Fatalf("commit: %v", commitErr)
	}
	return "file://" + filepath.ToSlash(sourceDirectory), commitHash.String()
}

// writeTestConfiguration isolates the run from the user's global configuration and returns a config path.
func writeTestConfiguration(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	stateDirectory := t.TempDir()
	configurationPath := filepath.Join(stateDirectory, utils.ConfigFileName)
	contents := fmt.Sprintf(testConfigurationTemplate,
		filepath.ToSlash(filepath.Join(stateDirectory, "workspaces")),
		filepath.ToSlash(filepath.Join(stateDirectory, "cache.db")),
	)
	if err := os.WriteFile(configurationPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("write configuration: %v", err)
	}
	return configurationPath
}

func executeCommand(t *testing.T, dependencies commandDependencies, arguments ...string) (string, error) {
	t.Helper()
	rootCommand := createRootCommand(dependencies)
	var stdout bytes.Buffer
	rootCommand.SetOut(&stdout)
	rootCommand.SetErr(&bytes.Buffer{})
	rootCommand.SetArgs(normalizeBooleanFlagArguments(rootCommand, arguments))
	executeErr := rootCommand.Execute()
	return stdout.String(), executeErr
}

func TestIngestPrintsRawContextAndCopiesIt(t *testing.T) {
	sourceURL, commitHash := createSourceRepository(t)
	configurationPath := writeTestConfiguration(t)
	copier := &recordingCopier{}

	stdout, executeErr := executeCommand(t, commandDependencies{copier: copier},
		"--config", configurationPath, "ingest", sourceURL, "--tree", "--copy", "yes")
	if executeErr != nil {
		t.Fatalf("ingest failed: %v", executeErr)
	}

	for _, expected := range []string{
		"Summary: 1 file,",
		"@ " + commitHash,
		"--- Directory Tree ---",
		"--- FILE: src/a.py ---",
		"print('hello')",
	} {
		if !strings.Contains(stdout, expected) {
			t.Fatalf("expected output to contain %q, got:\n%s", expected, stdout)
		}
	}
	if len(copier.copied) != 1 || copier.copied[0] != stdout {
		t.Fatalf("expected the printed output to be copied once, got %d copies", len(copier.copied))
	}
}

func TestIngestServesRepeatRunsFromCache(t *testing.T) {
	sourceURL, _ := createSourceRepository(t)
	configurationPath := writeTestConfiguration(t)

	first, firstErr := executeCommand(t, commandDependencies{}, "--config", configurationPath, "ingest", sourceURL, "--format", "json")
	if firstErr != nil {
		t.Fatalf("first ingest failed: %v", firstErr)
	}
	if strings.Contains(first, `"fromCache": true`) {
		t.Fatalf("first run must fetch, got:\n%s", first)
	}
	second, secondErr := executeCommand(t, commandDependencies{}, "--config", configurationPath, "ingest", sourceURL, "--format", "json")
	if secondErr != nil {
		t.Fatalf("second ingest failed: %v", secondErr)
	}
	if !strings.Contains(second, `"fromCache": true`) {
		t.Fatalf("second run must be served from the cache, got:\n%s", second)
	}
}

func TestIngestRejectsUnknownFormat(t *testing.T) {
	_, executeErr := executeCommand(t, commandDependencies{}, "ingest", "https://example.com/r.git", "--format", "yaml")
	if executeErr == nil || !strings.Contains(executeErr.Error(), "Invalid format value 'yaml'") {
		t.Fatalf("expected invalid format error, got %v", executeErr)
	}
}

func TestProbePrintsRemoteRevision(t *testing.T) {
	sourceURL, commitHash := createSourceRepository(t)
	configurationPath := writeTestConfiguration(t)

	stdout, executeErr := executeCommand(t, commandDependencies{}, "--config", configurationPath, "probe", sourceURL)
	if executeErr != nil {
		t.Fatalf("probe failed: %v", executeErr)
	}
	if strings.TrimSpace(stdout) != commitHash {
		t.Fatalf("expected %s, got %q", commitHash, stdout)
	}
}

func TestInitWritesLocalConfigurationOnce(t *testing.T) {
	workingDirectory := t.TempDir()
	t.Chdir(workingDirectory)
	expectedPath := filepath.Join(workingDirectory, utils.ConfigFileName)

	stdout, executeErr := executeCommand(t, commandDependencies{}, "init")
	if executeErr != nil {
		t.Fatalf("init failed: %v", executeErr)
	}
	if !strings.Contains(stdout, expectedPath) {
		t.Fatalf("expected output to name %s, got %q", expectedPath, stdout)
	}
	if _, statErr := os.Stat(expectedPath); statErr != nil {
		t.Fatalf("expected configuration file: %v", statErr)
	}

	if _, repeatErr := executeCommand(t, commandDependencies{}, "init"); repeatErr == nil {
		t.Fatalf("expected a second init without --force to fail")
	}
	if _, forcedErr := executeCommand(t, commandDependencies{}, "init", "--force"); forcedErr != nil {
		t.Fatalf("forced init failed: %v", forcedErr)
	}
}
