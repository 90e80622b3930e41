// Command tg is the local CLI surface over a core.Instance (SPEC_FULL
// §4.11): init/checkin/checkout/build/push/pull/gc/blob/tree, each opening
// its own Instance for the duration of the command rather than talking to
// a running daemon. Structured the way teacher cmd/warren/main.go lays out
// its cobra command tree: one *cobra.Command var per verb, flags attached
// in init(), RunE doing the work.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tangramcore/tangram/internal/core"
	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tglog"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tg",
	Short: "tg builds and moves content-addressed artifacts",
	Long: `tg is the command-line front end for a Tangram engine instance:
it checks files into content-addressed storage, evaluates build
expressions, and pushes/pulls blocks to and from a mirror.`,
}

func init() {
	rootCmd.PersistentFlags().String("path", "", "Data directory (overrides TANGRAM_PATH)")
	rootCmd.PersistentFlags().String("mirror", "", "Mirror URL (overrides TANGRAM_URL)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides TANGRAM_TRACING)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Has no effect: logs are always written in console format")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(blobCmd)
	rootCmd.AddCommand(treeCmd)
}

// configFromFlags resolves spec §6.4's environment variables, then lets
// this invocation's persistent flags override them.
func configFromFlags(cmd *cobra.Command) (core.Config, error) {
	cfg, err := core.ConfigFromEnvironment()
	if err != nil {
		return core.Config{}, fmt.Errorf("tg: failed to resolve configuration: %w", err)
	}
	if path, _ := cmd.Flags().GetString("path"); path != "" {
		cfg.DataDir = path
	}
	if mirror, _ := cmd.Flags().GetString("mirror"); mirror != "" {
		cfg.MirrorURL = mirror
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = tglog.Level(level)
	}
	return cfg, nil
}

func openInstance(cmd *cobra.Command) (*core.Instance, error) {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	return core.Open(cfg)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory layout (spec §6.1) if it doesn't exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		inst, err := core.Open(cfg)
		if err != nil {
			return err
		}
		defer inst.Close()

		fmt.Printf("Initialized data directory: %s\n", cfg.DataDir)
		return nil
	},
}

var checkinCmd = &cobra.Command{
	Use:   "checkin PATH",
	Short: "Check a file or directory into content-addressed storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := openInstance(cmd)
		if err != nil {
			return err
		}
		defer inst.Close()

		artifact, err := inst.Checkin(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("tg: checkin failed: %w", err)
		}
		fmt.Println(artifact.String())
		return nil
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout ARTIFACT-ID PATH",
	Short: "Materialize an artifact onto the filesystem",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		artifact, err := id.Parse(args[0])
		if err != nil {
			return fmt.Errorf("tg: invalid artifact id %q: %w", args[0], err)
		}

		inst, err := openInstance(cmd)
		if err != nil {
			return err
		}
		defer inst.Close()

		if err := inst.Checkout(cmd.Context(), artifact, args[1]); err != nil {
			return fmt.Errorf("tg: checkout failed: %w", err)
		}
		fmt.Printf("Checked out %s to %s\n", artifact, args[1])
		return nil
	},
}

var buildCmd = &cobra.Command{
	Use:   "build EXPRESSION-ID",
	Short: "Evaluate an expression and optionally check the result out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exprID, err := id.Parse(args[0])
		if err != nil {
			return fmt.Errorf("tg: invalid expression id %q: %w", args[0], err)
		}
		out, _ := cmd.Flags().GetString("out")

		inst, err := openInstance(cmd)
		if err != nil {
			return err
		}
		defer inst.Close()

		valueID, err := inst.Build(cmd.Context(), exprID, out)
		if err != nil {
			return fmt.Errorf("tg: build failed: %w", err)
		}
		fmt.Println(valueID.String())
		return nil
	},
}

func init() {
	buildCmd.Flags().String("out", "", "Check the built artifact out to this path")
}

var pushCmd = &cobra.Command{
	Use:   "push BLOCK-ID",
	Short: "Push a block and its closure to a mirror",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blockID, err := id.Parse(args[0])
		if err != nil {
			return fmt.Errorf("tg: invalid block id %q: %w", args[0], err)
		}

		inst, err := openInstance(cmd)
		if err != nil {
			return err
		}
		defer inst.Close()

		mirror, _ := cmd.Flags().GetString("mirror")
		if err := inst.Push(cmd.Context(), blockID, mirror); err != nil {
			return fmt.Errorf("tg: push failed: %w", err)
		}
		fmt.Printf("Pushed %s\n", blockID)
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull BLOCK-ID",
	Short: "Pull a block and its closure from a mirror",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blockID, err := id.Parse(args[0])
		if err != nil {
			return fmt.Errorf("tg: invalid block id %q: %w", args[0], err)
		}

		inst, err := openInstance(cmd)
		if err != nil {
			return err
		}
		defer inst.Close()

		mirror, _ := cmd.Flags().GetString("mirror")
		if err := inst.Pull(cmd.Context(), blockID, mirror); err != nil {
			return fmt.Errorf("tg: pull failed: %w", err)
		}
		fmt.Printf("Pulled %s\n", blockID)
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc [ROOT-ID...]",
	Short: "Remove every block and blob unreachable from the given roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		roots := make([]id.ID, len(args))
		for i, arg := range args {
			rootID, err := id.Parse(arg)
			if err != nil {
				return fmt.Errorf("tg: invalid root id %q: %w", arg, err)
			}
			roots[i] = rootID
		}

		inst, err := openInstance(cmd)
		if err != nil {
			return err
		}
		defer inst.Close()

		removed, err := inst.Clean(roots)
		if err != nil {
			return fmt.Errorf("tg: gc failed: %w", err)
		}
		fmt.Printf("Removed %d block(s)\n", removed)
		return nil
	},
}

var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Read and write raw blob content",
}

var blobPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Store bytes from a file or stdin as a blob",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		var r io.Reader = os.Stdin
		if file != "" {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("tg: failed to open %s: %w", file, err)
			}
			defer f.Close()
			r = f
		}

		inst, err := openInstance(cmd)
		if err != nil {
			return err
		}
		defer inst.Close()

		blockID, err := inst.Put(r)
		if err != nil {
			return fmt.Errorf("tg: blob put failed: %w", err)
		}
		fmt.Println(blockID.String())
		return nil
	},
}

var blobGetCmd = &cobra.Command{
	Use:   "get BLOCK-ID",
	Short: "Write a blob's content to a file or stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blockID, err := id.Parse(args[0])
		if err != nil {
			return fmt.Errorf("tg: invalid block id %q: %w", args[0], err)
		}
		out, _ := cmd.Flags().GetString("out")

		inst, err := openInstance(cmd)
		if err != nil {
			return err
		}
		defer inst.Close()

		v, err := inst.Get(blockID)
		if err != nil {
			return fmt.Errorf("tg: blob get failed: %w", err)
		}
		if v.Kind != object.KindBlob {
			return fmt.Errorf("tg: %s is a %s, not a blob", blockID, v.Kind)
		}

		r, err := inst.Blobs.Reader(v.ID)
		if err != nil {
			return fmt.Errorf("tg: blob get failed: %w", err)
		}
		defer r.Close()

		w := io.Writer(os.Stdout)
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("tg: failed to create %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}
		_, err = io.Copy(w, r)
		return err
	},
}

func init() {
	blobCmd.AddCommand(blobPutCmd)
	blobCmd.AddCommand(blobGetCmd)

	blobPutCmd.Flags().String("file", "", "Read content from this file instead of stdin")
	blobGetCmd.Flags().String("out", "", "Write content to this file instead of stdout")
}

var treeCmd = &cobra.Command{
	Use:   "tree ARTIFACT-ID",
	Short: "Print an artifact's directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rootID, err := id.Parse(args[0])
		if err != nil {
			return fmt.Errorf("tg: invalid artifact id %q: %w", args[0], err)
		}

		inst, err := openInstance(cmd)
		if err != nil {
			return err
		}
		defer inst.Close()

		v, err := inst.Get(rootID)
		if err != nil {
			return fmt.Errorf("tg: tree failed: %w", err)
		}
		fmt.Println(rootID)
		return printTree(inst, v, "")
	},
}

// printTree recursively renders a Directory/File/Symlink value the way
// the Unix tree(1) command does, one line per entry, indented by depth.
func printTree(inst *core.Instance, v object.Value, prefix string) error {
	switch v.Kind {
	case object.KindDirectory:
		dir, err := inst.Store.LoadDirectory(v.ID)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(dir.Entries))
		for name := range dir.Entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for i, name := range names {
			last := i == len(names)-1
			branch := "├── "
			nextPrefix := prefix + "│   "
			if last {
				branch = "└── "
				nextPrefix = prefix + "    "
			}
			child := dir.Entries[name]
			fmt.Printf("%s%s%s\n", prefix, branch, name)
			if err := printTree(inst, child, nextPrefix); err != nil {
				return err
			}
		}
	case object.KindFile, object.KindSymlink:
		// leaves: nothing further to print below the name already shown
	}
	return nil
}
