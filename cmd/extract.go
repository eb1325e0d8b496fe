package cmd

import (
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/akashicode/docuquery/internal/display"
	"github.com/akashicode/docuquery/internal/reader"
)

var extractStats bool

var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>",
	Short: "Print the text extracted from a PDF",
	Long: `Extracts the text of every page in page order, exactly as it is
embedded into question prompts. Pages are separated by a blank line.

With --stats, also validates the file structure and prints page and
character counts instead of the text.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&extractStats, "stats", false, "Print document statistics instead of the text")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	file, err := reader.LoadFile(args[0], cfg.Server.MaxUploadBytes)
	if err != nil {
		return err
	}

	ex := reader.NewExtractor(reader.PDFOpener)
	if !extractStats {
		text, err := ex.Extract(cmd.Context(), file.Data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	}

	var (
		info  reader.Info
		pages []reader.Page
	)
	g, gctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		var err error
		info, err = reader.Inspect(file.Data)
		return err
	})
	g.Go(func() error {
		var err error
		pages, err = ex.ExtractPages(gctx, file.Data)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	chars, empty := 0, 0
	for _, p := range pages {
		n := utf8.RuneCountInString(p.Text)
		chars += n
		if n == 0 {
			empty++
		}
	}

	display.Header(file.Name)
	display.KeyValue("Size", fmt.Sprintf("%d bytes", info.Size), display.BrightWhite)
	display.KeyValue("Pages", info.PageCount, display.BrightGreen)
	display.KeyValue("Encrypted", info.Encrypted, display.BrightYellow)
	display.KeyValue("Characters", chars, display.BrightGreen)
	if empty > 0 {
		display.StepWarn(fmt.Sprintf("%d page(s) have no extractable text", empty))
	}
	return nil
}
