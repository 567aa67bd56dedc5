package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/archiveforge/docscrawler/internal/config"
	"github.com/archiveforge/docscrawler/internal/crawlengine"
	"github.com/archiveforge/docscrawler/internal/indexwriter"
	"github.com/archiveforge/docscrawler/internal/jobmanager"
	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/internal/repoacquirer"
	"github.com/archiveforge/docscrawler/internal/search"
	"github.com/spf13/cobra"
)

// Exit codes (§6): 0 success, 2 invalid arguments, 3 job failed, 4 not found.
const (
	exitOK          = 0
	exitInvalidArgs = 2
	exitJobFailed   = 3
	exitNotFound    = 4

	jobPollInterval = 25 * time.Millisecond
)

// placeholderSeed stands in for a seed URL when building a Config for a
// command that never crawls from one (repo jobs, search) — Config.Build
// always requires at least one seed URL, but neither path reads it back.
var placeholderSeed = url.URL{Scheme: "http", Host: "localhost"}

var (
	jobID    string
	jobForce bool

	repoURL    string
	docSubpath string

	searchJobID           string
	searchSelector        string
	searchScanKeywords    []string
	searchExtractKeywords []string
)

func init() {
	runCmd.Flags().StringVar(&jobID, "job-id", "", "caller-supplied job id (generated if empty)")
	runCmd.Flags().BoolVar(&jobForce, "force", false, "re-fetch targets whose local file already exists")

	repoCmd.Flags().StringVar(&jobID, "job-id", "", "caller-supplied job id (generated if empty)")
	repoCmd.Flags().BoolVar(&jobForce, "force", false, "re-copy files into an already-populated destination")
	repoCmd.Flags().StringVar(&repoURL, "repo-url", "", "git repository URL to clone")
	repoCmd.Flags().StringVar(&docSubpath, "doc-subpath", "", "subdirectory of the repo to copy")

	searchCmd.Flags().StringVar(&searchJobID, "job-id", "", "job id whose index to search")
	searchCmd.Flags().StringVar(&searchSelector, "selector", "", "CSS selector applied to each scanned document")
	searchCmd.Flags().StringArrayVar(&searchScanKeywords, "scan-keyword", []string{}, "keyword a document's raw text must contain to proceed to extraction (repeatable)")
	searchCmd.Flags().StringArrayVar(&searchExtractKeywords, "extract-keyword", []string{}, "keyword an extracted snippet must contain to be returned (repeatable)")

	rootCmd.AddCommand(runCmd, repoCmd, searchCmd)
}

// runCmd submits a kind=web job built from the shared --seed-url flags.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a crawl job and wait for it to finish.",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(RunJob(jobmanager.KindWeb))
	},
}

// repoCmd submits a kind=repo job.
var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Submit a repo-acquisition job and wait for it to finish.",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(RunJob(jobmanager.KindRepo))
	},
}

// searchCmd runs §4.8's search pipeline over a completed job's index.
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a keyword/selector search over a job's index.",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(RunSearch())
	},
}

// jobPaths derives a job's content root and index path from the process's
// output directory and its finalised id, so two jobs never share a file.
func jobPaths(outputDir, id string) (contentRoot, indexPath string) {
	return filepath.Join(outputDir, "content", id), filepath.Join(outputDir, "index", id+".jsonl")
}

// buildRunnableFactory returns a RunnableFactory that dispatches an admitted
// descriptor to a crawlengine.Engine (kind web/browser) or a
// repoacquirer.Acquirer (kind repo), each wired with a fresh index writer
// rooted at the job's own id.
func buildRunnableFactory(cfg config.Config, metadataSink metadata.MetadataSink) jobmanager.RunnableFactory {
	return func(ctx context.Context, descriptor jobmanager.Descriptor, id string) (jobmanager.Runnable, error) {
		contentRoot, indexPath := jobPaths(cfg.OutputDir(), id)
		if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(contentRoot, 0755); err != nil {
			return nil, err
		}

		indexWriter, classified := indexwriter.Open(metadataSink, indexPath)
		if classified != nil {
			return nil, classified
		}

		if descriptor.Kind == jobmanager.KindRepo {
			req := repoacquirer.Request{
				RepoURL:     repoURL,
				DocSubpath:  docSubpath,
				ContentRoot: contentRoot,
				Force:       jobForce,
			}
			return repoacquirer.New(req, metadataSink, indexWriter), nil
		}

		jobCfg := cfg.WithContentRoot(contentRoot).WithIndexPath(indexPath)
		engine := crawlengine.NewEngine(*jobCfg, metadataSink, indexWriter, ctx)
		engine.SetForce(jobForce)
		return engine, nil
	}
}

// RunJob builds a one-off Manager for a single ad-hoc job of kind, admits
// it, blocks until it reaches a terminal state, and returns the §6 exit
// code for that outcome. It is meant for local/manual use, not as a
// long-lived service — the manager and everything it tracks dies with the
// process once this function returns.
func RunJob(kind jobmanager.Kind) int {
	var seeds []url.URL
	if kind == jobmanager.KindRepo {
		if repoURL == "" {
			fmt.Fprintln(os.Stderr, "Error: --repo-url is required for a repo job")
			return exitInvalidArgs
		}
		seeds = []url.URL{placeholderSeed}
	} else {
		if len(seedURLs) == 0 {
			fmt.Fprintln(os.Stderr, "Error: --seed-url is required")
			return exitInvalidArgs
		}
		parsed, err := parseSeedURLs(seedURLs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return exitInvalidArgs
		}
		seeds = parsed
	}

	cfg, err := InitConfigWithError(seeds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return exitInvalidArgs
	}

	metadataSink := metadata.NewRecorder(os.Stderr)
	manager := jobmanager.New(buildRunnableFactory(cfg, metadataSink))

	id, admitErr := manager.Admit(context.Background(), jobmanager.Descriptor{Kind: kind, ID: jobID})
	if admitErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", admitErr)
		return exitInvalidArgs
	}

	snap := waitForTerminal(manager, id)
	payload, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(payload))

	if snap.Status == jobmanager.StatusFailed {
		return exitJobFailed
	}
	return exitOK
}

func waitForTerminal(manager *jobmanager.Manager, id string) jobmanager.Snapshot {
	for {
		snap, err := manager.Status(id)
		if err != nil {
			return jobmanager.Snapshot{ID: id, Status: jobmanager.StatusFailed, ErrorDetail: err.Error()}
		}
		if snap.Status == jobmanager.StatusCompleted || snap.Status == jobmanager.StatusFailed {
			return snap
		}
		time.Sleep(jobPollInterval)
	}
}

// RunSearch runs a search against an already-completed job's index and
// prints its results as JSON, returning the §6 exit code for the outcome.
func RunSearch() int {
	if searchJobID == "" {
		fmt.Fprintln(os.Stderr, "Error: --job-id is required")
		return exitInvalidArgs
	}

	cfg, err := InitConfigWithError([]url.URL{placeholderSeed})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return exitInvalidArgs
	}

	_, indexPath := jobPaths(cfg.OutputDir(), searchJobID)

	coordinator := search.NewCoordinator(nil)
	results, searchErr := coordinator.Search(context.Background(), indexPath, search.Request{
		ScanKeywords:    searchScanKeywords,
		Selector:        searchSelector,
		ExtractKeywords: searchExtractKeywords,
	})
	if searchErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", searchErr)
		if searchErr.Cause == search.ErrCauseJobNotFound {
			return exitNotFound
		}
		return exitInvalidArgs
	}

	payload, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(payload))
	return exitOK
}

// ResetJobFlagsForTest clears every flag this file owns, mirroring
// ResetFlags's convention for the original flag set.
func ResetJobFlagsForTest() {
	jobID = ""
	jobForce = false
	repoURL = ""
	docSubpath = ""
	searchJobID = ""
	searchSelector = ""
	searchScanKeywords = []string{}
	searchExtractKeywords = []string{}
}

// SetJobIDForTest sets the --job-id flag shared by run and repo.
func SetJobIDForTest(id string) {
	jobID = id
}

// SetJobForceForTest sets the --force flag shared by run and repo.
func SetJobForceForTest(force bool) {
	jobForce = force
}

// SetRepoURLForTest sets the repo subcommand's --repo-url flag.
func SetRepoURLForTest(u string) {
	repoURL = u
}

// SetDocSubpathForTest sets the repo subcommand's --doc-subpath flag.
func SetDocSubpathForTest(subpath string) {
	docSubpath = subpath
}

// SetSearchJobIDForTest sets the search subcommand's --job-id flag.
func SetSearchJobIDForTest(id string) {
	searchJobID = id
}

// SetSearchSelectorForTest sets the search subcommand's --selector flag.
func SetSearchSelectorForTest(selector string) {
	searchSelector = selector
}

// SetSearchScanKeywordsForTest sets the search subcommand's --scan-keyword flag.
func SetSearchScanKeywordsForTest(keywords []string) {
	searchScanKeywords = keywords
}

// SetSearchExtractKeywordsForTest sets the search subcommand's --extract-keyword flag.
func SetSearchExtractKeywordsForTest(keywords []string) {
	searchExtractKeywords = keywords
}
