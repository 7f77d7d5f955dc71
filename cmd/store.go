package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/shredtap/pkg/codec"
	"firestige.xyz/shredtap/plugins/output/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Read shreds archived by the store output",
	Long: `Read shreds archived by the store output. The archive must not be open
by a running shredtap.

Examples:
  shredtap store slot 312000000 --dir /var/lib/shredtap/archive
  shredtap store get 312000000 7 data --dir /var/lib/shredtap/archive -o json`,
}

var storeSlotCmd = &cobra.Command{
	Use:   "slot <slot>",
	Short: "List every archived shred of a slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid slot %q: %w", args[0], err)
		}
		return runStoreSlot(cmd.OutOrStdout(), storeDir, storeFormat, slot, storeOutput)
	},
}

var storeGetCmd = &cobra.Command{
	Use:   "get <slot> <index> <data|code>",
	Short: "Print one archived shred",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid slot %q: %w", args[0], err)
		}
		index, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[1], err)
		}
		return runStoreGet(cmd.OutOrStdout(), storeDir, storeFormat, slot, uint32(index), args[2], storeOutput)
	},
}

var (
	storeDir    string
	storeFormat string
	storeOutput string
)

func init() {
	storeCmd.PersistentFlags().StringVar(&storeDir, "dir", "", "archive directory (the store output's dir)")
	storeCmd.PersistentFlags().StringVar(&storeFormat, "format", codec.FormatCBOR, "record encoding the archive was written with: cbor or json")
	storeCmd.PersistentFlags().StringVarP(&storeOutput, "output", "o", "text", "output format: text or json")
	_ = storeCmd.MarkPersistentFlagRequired("dir")

	storeCmd.AddCommand(storeSlotCmd)
	storeCmd.AddCommand(storeGetCmd)
}

func runStoreSlot(w io.Writer, dir, format string, slot uint64, output string) error {
	if err := checkStoreOutput(output); err != nil {
		return err
	}
	r, err := store.OpenReader(dir, format)
	if err != nil {
		return err
	}
	defer r.Close()

	recs, err := r.Slot(slot)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := printRecord(w, rec, output); err != nil {
			return err
		}
	}
	if output == "text" {
		fmt.Fprintf(w, "%d shreds in slot %d\n", len(recs), slot)
	}
	return nil
}

func runStoreGet(w io.Writer, dir, format string, slot uint64, index uint32, typ, output string) error {
	if err := checkStoreOutput(output); err != nil {
		return err
	}
	if typ != "data" && typ != "code" {
		return fmt.Errorf("invalid shred type %q (must be data or code)", typ)
	}
	r, err := store.OpenReader(dir, format)
	if err != nil {
		return err
	}
	defer r.Close()

	rec, err := r.Get(slot, index, typ)
	if err != nil {
		return fmt.Errorf("slot %d index %d %s: %w", slot, index, typ, err)
	}
	return printRecord(w, rec, output)
}

func checkStoreOutput(output string) error {
	if output != "text" && output != "json" {
		return fmt.Errorf("unsupported output %q (must be text or json)", output)
	}
	return nil
}

func printRecord(w io.Writer, rec codec.Record, output string) error {
	if output == "json" {
		c, _ := codec.New(codec.FormatJSON)
		out, err := c.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}
	_, err := fmt.Fprintf(w, "%-4s slot=%d index=%d fec=%d version=%d bytes=%d received=%s\n",
		rec.Type, rec.Slot, rec.Index, rec.FECSetIndex, rec.ShredVersion, len(rec.Raw),
		rec.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	return err
}
