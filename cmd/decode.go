package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/core/decoder"
	"firestige.xyz/shredtap/pkg/codec"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decode one shred and print its headers",
	Long: `Decode a single shred given as a hex string or read from a binary file.

Examples:
  shredtap decode a5a5...        # hex on the command line
  shredtap decode -f shred.bin   # raw bytes from a file
  shredtap decode -f shred.bin -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := decodeInput(args, decodeFile)
		if err != nil {
			return err
		}
		return runDecode(cmd.OutOrStdout(), data, decodeOutput)
	},
}

var (
	decodeFile   string
	decodeOutput string
)

func init() {
	decodeCmd.Flags().StringVarP(&decodeFile, "file", "f", "", "binary file holding one shred")
	decodeCmd.Flags().StringVarP(&decodeOutput, "output", "o", "text", "output format: text or json")
}

func decodeInput(args []string, file string) ([]byte, error) {
	switch {
	case file != "" && len(args) > 0:
		return nil, fmt.Errorf("give either a hex argument or --file, not both")
	case file != "":
		return os.ReadFile(file)
	case len(args) == 1:
		s := strings.TrimPrefix(strings.TrimSpace(args[0]), "0x")
		data, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("a hex argument or --file is required")
	}
}

func runDecode(w io.Writer, data []byte, output string) error {
	shred, err := decoder.Decode(data)
	if err != nil {
		return err
	}

	if output == "json" {
		c, _ := codec.New(codec.FormatJSON)
		out, err := c.Marshal(codec.NewRecord(&shred, codec.Options{IncludePayload: true}))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}
	if output != "text" {
		return fmt.Errorf("unsupported output %q (must be text or json)", output)
	}

	c := shred.Common
	fmt.Fprintf(w, "Variant:       %s\n", c.Variant)
	fmt.Fprintf(w, "Slot:          %d\n", c.Slot)
	fmt.Fprintf(w, "Index:         %d\n", c.Index)
	fmt.Fprintf(w, "Shred version: %d\n", c.ShredVersion)
	fmt.Fprintf(w, "FEC set index: %d\n", c.FECSetIndex)
	fmt.Fprintf(w, "Signature:     %x\n", c.Signature[:8])
	switch shred.Type() {
	case core.ShredTypeData:
		d := shred.Data
		fmt.Fprintf(w, "Parent offset: %d\n", d.ParentOffset)
		fmt.Fprintf(w, "Flags:         0x%02x (tick=%d data_complete=%t last_in_slot=%t)\n",
			d.Flags, d.ReferenceTick(), d.DataComplete(), d.LastInSlot())
		fmt.Fprintf(w, "Size:          %d\n", d.Size)
		fmt.Fprintf(w, "Data bytes:    %d\n", len(shred.DataPayload()))
	case core.ShredTypeCode:
		cd := shred.Code
		fmt.Fprintf(w, "Data shreds:   %d\n", cd.NumDataShreds)
		fmt.Fprintf(w, "Code shreds:   %d\n", cd.NumCodingShreds)
		fmt.Fprintf(w, "Position:      %d\n", cd.Position)
		fmt.Fprintf(w, "Parity bytes:  %d\n", len(shred.Payload))
	}
	fmt.Fprintf(w, "Packet bytes:  %d\n", len(data))
	return nil
}
