// Command merklecli is a debug tool for poking at a tree on disk: open
// it, put a key/value pair, read back the root hash, clone it, or
// force a flush. It owns the process's one signal-driven shutdown
// hook — the library itself never calls signal.Notify (SPEC_FULL.md
// §4.6); only an outer binary like this one should decide how a host
// process reacts to SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/pwrlabs/go-merkletree-db/kvstore/rocksdb"
	"github.com/pwrlabs/go-merkletree-db/merkle"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "merklecli:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		if err := merkle.CloseAll(); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	app := &cli.App{
		Name:  "merklecli",
		Usage: "inspect and drive a go-merkletree-db tree from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path-prefix", Value: merkle.DefaultPathPrefix, Usage: "parent directory for tree data"},
		},
		Commands: []*cli.Command{
			openCmd(logger),
			putCmd(logger),
			getCmd(logger),
			rootHashCmd(logger),
			cloneCmd(logger),
			flushCmd(logger),
		},
	}
	return app.Run(os.Args)
}

func cfg(c *cli.Context, logger *zap.Logger) merkle.Config {
	return merkle.Config{
		PathPrefix: c.String("path-prefix"),
		Open:       rocksdb.Open,
		Logger:     logger,
	}
}

func openCmd(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "open",
		Usage:     "open (creating if necessary) a tree and report its root hash and leaf count",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.Exit("open: missing <name>", 1)
			}
			t, err := merkle.Open(cfg(c, logger), name)
			if err != nil {
				return err
			}
			defer t.Close()
			return printSummary(t)
		},
	}
}

func putCmd(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "write a key/value pair and wait for it to be folded into the tree",
		ArgsUsage: "<name> <key> <value>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 3 {
				return cli.Exit("put: usage: put <name> <key> <value>", 1)
			}
			name, key, value := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)
			t, err := merkle.Open(cfg(c, logger), name)
			if err != nil {
				return err
			}
			defer t.Close()
			if err := t.Put([]byte(key), []byte(value)); err != nil {
				return err
			}
			if _, err := t.RootHash(); err != nil {
				return err
			}
			return printSummary(t)
		},
	}
}

func getCmd(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "read a key's value",
		ArgsUsage: "<name> <key>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return cli.Exit("get: usage: get <name> <key>", 1)
			}
			name, key := c.Args().Get(0), c.Args().Get(1)
			t, err := merkle.Open(cfg(c, logger), name)
			if err != nil {
				return err
			}
			defer t.Close()
			v, err := t.Get([]byte(key))
			if err != nil {
				return err
			}
			if v == nil {
				fmt.Println("<not found>")
				return nil
			}
			fmt.Println(string(v))
			return nil
		},
	}
}

func rootHashCmd(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "roothash",
		Usage:     "print the tree's current root hash",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.Exit("roothash: missing <name>", 1)
			}
			t, err := merkle.Open(cfg(c, logger), name)
			if err != nil {
				return err
			}
			defer t.Close()
			root, err := t.RootHash()
			if err != nil {
				return err
			}
			if root == nil {
				fmt.Println("<empty tree>")
				return nil
			}
			fmt.Printf("%x\n", root.Bytes())
			return nil
		},
	}
}

func cloneCmd(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "clone",
		Usage:     "flush and checkpoint a tree under a new name",
		ArgsUsage: "<name> <new-name>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return cli.Exit("clone: usage: clone <name> <new-name>", 1)
			}
			name, newName := c.Args().Get(0), c.Args().Get(1)
			t, err := merkle.Open(cfg(c, logger), name)
			if err != nil {
				return err
			}
			defer t.Close()
			cloned, err := t.Clone(newName)
			if err != nil {
				return err
			}
			defer cloned.Close()
			fmt.Printf("cloned %q into %q\n", name, newName)
			return nil
		},
	}
}

func flushCmd(logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "flush",
		Usage:     "force a flush of unpersisted writes",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.Exit("flush: missing <name>", 1)
			}
			t, err := merkle.Open(cfg(c, logger), name)
			if err != nil {
				return err
			}
			defer t.Close()
			if err := t.Flush(); err != nil {
				return err
			}
			return printSummary(t)
		},
	}
}

func printSummary(t *merkle.Tree) error {
	root, err := t.RootHash()
	if err != nil {
		return err
	}
	leaves, err := t.NumLeaves()
	if err != nil {
		return err
	}
	depth, err := t.Depth()
	if err != nil {
		return err
	}
	if root == nil {
		fmt.Printf("%s: empty (leaves=0)\n", t.Name())
		return nil
	}
	fmt.Printf("%s: root=%x leaves=%d depth=%d\n", t.Name(), root.Bytes(), leaves, depth)
	return nil
}
