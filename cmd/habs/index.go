package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bobg/habs"
	"github.com/bobg/habs/hashgroup"
	"github.com/bobg/habs/store/indexed"
)

func (a *app) reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Insert every blob in the store into the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := a.openStore(ctx, "store")
			if err != nil {
				return err
			}
			tree, err := a.openTree(ctx, "index")
			if err != nil {
				return err
			}
			n, err := indexed.Reindex(ctx, s, tree)
			if err != nil {
				return errors.Wrap(err, "reindexing")
			}
			a.logger.Info("reindexed", zap.Int("blobs", n))
			return nil
		},
	}
}

func (a *app) recomputeCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Rehash the invalid groups of the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			tree, err := a.openTree(ctx, "index")
			if err != nil {
				return err
			}
			if every > 0 {
				err = tree.RecomputeEvery(ctx, every)
				if ctx.Err() != nil {
					// Interrupted.
					return nil
				}
				return err
			}
			n, err := tree.Recompute(ctx)
			if err != nil {
				return errors.Wrap(err, "recomputing")
			}
			fmt.Printf("rehashed %d groups\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "keep recomputing at this interval until interrupted")
	return cmd
}

func (a *app) groupCmd() *cobra.Command {
	var children bool
	cmd := &cobra.Command{
		Use:   "group [NAME]",
		Short: "Show the hash and status of a group (default: the root)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			name := hashgroup.RootName
			if len(args) > 0 {
				name = args[0]
			}
			tree, err := a.openTree(ctx, "index")
			if err != nil {
				return err
			}
			hash, status, err := tree.GetGroup(ctx, name)
			if err != nil {
				return errors.Wrapf(err, "getting group %s", name)
			}
			fmt.Printf("%s %s %s\n", name, hash, status)
			if !children {
				return nil
			}
			entries, err := tree.Children(ctx, name)
			if err != nil {
				return errors.Wrapf(err, "getting children of %s", name)
			}
			for _, e := range entries {
				if e.Leaf {
					fmt.Printf("  %s\n", e.Name)
				} else {
					fmt.Printf("  %s %s\n", e.Name, e.Hash)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&children, "children", false, "also list the group's children")
	return cmd
}

func (a *app) diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "List the blobs in only one of the index and the peer index",
		Long: `List the blobs in only one of the index and the peer index.
Lines beginning with < are blobs only here, lines beginning with > are blobs only in the peer.
Both indexes must be recomputed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			tree, err := a.openTree(ctx, "index")
			if err != nil {
				return err
			}
			peer, err := a.openTree(ctx, "peer.index")
			if err != nil {
				return err
			}
			return hashgroup.Diff(ctx, tree, peer, func(ref habs.Ref, here bool) error {
				if here {
					fmt.Printf("< %s\n", ref)
				} else {
					fmt.Printf("> %s\n", ref)
				}
				return nil
			})
		},
	}
}

func (a *app) syncCmd() *cobra.Command {
	var push bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy the blobs that the peer has and this store lacks",
		Long: `Copy the blobs that the peer has and this store lacks,
updating the index. With --push, also copy in the other direction.
Both indexes must be recomputed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := a.openStore(ctx, "store")
			if err != nil {
				return err
			}
			tree, err := a.openTree(ctx, "index")
			if err != nil {
				return err
			}
			peerStore, err := a.openStore(ctx, "peer.store")
			if err != nil {
				return err
			}
			peer, err := a.openTree(ctx, "peer.index")
			if err != nil {
				return err
			}

			if push {
				// Push first, while this tree is still fully recomputed.
				n, err := hashgroup.Sync(ctx, tree, s, peer, peerStore)
				if err != nil {
					return errors.Wrap(err, "pushing")
				}
				a.logger.Info("pushed blobs", zap.Int("count", n))
				if _, err = peer.Recompute(ctx); err != nil {
					return errors.Wrap(err, "recomputing peer")
				}
			}

			n, err := hashgroup.Sync(ctx, peer, peerStore, tree, s)
			if err != nil {
				return errors.Wrap(err, "pulling")
			}
			a.logger.Info("pulled blobs", zap.Int("count", n))
			_, err = tree.Recompute(ctx)
			return errors.Wrap(err, "recomputing")
		},
	}
	cmd.Flags().BoolVar(&push, "push", false, "also copy blobs from here to the peer")
	return cmd
}
