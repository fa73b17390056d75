package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bobg/habs"
	"github.com/bobg/habs/split"
	"github.com/bobg/habs/store"
	"github.com/bobg/habs/store/ha"
)

func (a *app) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put",
		Short: "Store the blob read from stdin and print its ref",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := a.openIndexedStore(ctx)
			if err != nil {
				return err
			}
			blob, err := io.ReadAll(os.Stdin)
			if err != nil {
				return errors.Wrap(err, "reading stdin")
			}
			ref := habs.RefOf(blob)
			if err = s.SetBlob(ctx, ref, blob); err != nil {
				return errors.Wrap(err, "storing blob")
			}
			fmt.Println(ref)
			return nil
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get REF",
		Short: "Write the blob with the given ref to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			s, err := a.openStore(ctx, "store")
			if err != nil {
				return err
			}
			blob, err := s.GetBlob(ctx, ref)
			if err != nil {
				return errors.Wrapf(err, "getting blob %s", ref)
			}
			_, err = os.Stdout.Write(blob)
			return errors.Wrap(err, "writing blob to stdout")
		},
	}
}

func (a *app) hasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "has REF...",
		Short: "Tell whether the store has the blobs with the given refs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := a.openStore(ctx, "store")
			if err != nil {
				return err
			}
			for _, arg := range args {
				ref, err := parseRef(arg)
				if err != nil {
					return err
				}
				has, err := s.HasBlob(ctx, ref)
				if err != nil {
					return errors.Wrapf(err, "checking blob %s", ref)
				}
				fmt.Printf("%s %v\n", ref, has)
			}
			return nil
		},
	}
}

func (a *app) ingestCmd() *cobra.Command {
	var (
		minSize int
		bits    uint
	)
	cmd := &cobra.Command{
		Use:   "ingest [FILE...]",
		Short: "Store files (or stdin) as content-defined chunks and print each manifest ref",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := a.openIndexedStore(ctx)
			if err != nil {
				return err
			}
			opts := []split.Option{split.MinSize(minSize), split.Bits(bits)}

			if len(args) == 0 {
				ref, err := split.Write(ctx, s, os.Stdin, opts...)
				if err != nil {
					return errors.Wrap(err, "ingesting stdin")
				}
				fmt.Println(ref)
				return nil
			}

			for _, name := range args {
				f, err := os.Open(name)
				if err != nil {
					return errors.Wrapf(err, "opening %s", name)
				}
				w := split.NewWriter(ctx, s, opts...)
				_, err = io.Copy(w, f)
				f.Close()
				if err != nil {
					return errors.Wrapf(err, "ingesting %s", name)
				}
				if err = w.Close(); err != nil {
					return errors.Wrapf(err, "ingesting %s", name)
				}
				a.logger.Info("ingested", zap.String("file", name), zap.Stringer("ref", w.Root), zap.Int("chunks", len(w.Chunks())))
				fmt.Printf("%s %s\n", w.Root, name)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&minSize, "min-size", 1024, "minimum chunk size")
	cmd.Flags().UintVar(&bits, "bits", 14, "split when this many trailing bits of the rolling checksum are zero")
	return cmd
}

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat REF",
		Short: "Reassemble ingested content from its manifest ref and write it to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			s, err := a.openStore(ctx, "store")
			if err != nil {
				return err
			}
			return split.Read(ctx, s, ref, os.Stdout)
		},
	}
}

func (a *app) repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Copy blobs between the two backends of an ha store until both have all of them",
		Long: `Copy blobs between the two backends of an ha store until both have all of them.
Background replication is best-effort, so a backend can miss blobs
written while it was failing. Both backends must be able to list their refs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := a.openStore(ctx, "store")
			if err != nil {
				return err
			}
			h, ok := s.(*ha.Store)
			if !ok {
				return fmt.Errorf("store %s is not an ha store", store.Describe(s))
			}
			primary, secondary := h.Roles()
			if secondary == nil {
				return errors.New("ha store has no secondary")
			}
			a.logger.Info("repairing", zap.String("primary", store.Describe(primary)), zap.String("secondary", store.Describe(secondary)))
			return store.Sync(ctx, []habs.Store{primary, secondary})
		},
	}
}
