package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/agrc/broadband-speedtest-skid/internal/bucket"
	"github.com/agrc/broadband-speedtest-skid/internal/census"
	"github.com/agrc/broadband-speedtest-skid/internal/county"
	"github.com/agrc/broadband-speedtest-skid/internal/fetcher"
	"github.com/agrc/broadband-speedtest-skid/internal/model"
	"github.com/agrc/broadband-speedtest-skid/internal/pipeline"
	"github.com/agrc/broadband-speedtest-skid/internal/speedtest"
)

var reportOut string

// reportCmd computes the county response rates from live data and writes
// them to a spreadsheet, without touching the hosted layers.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export county response rates to a spreadsheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			RateLimiters: fetcher.DefaultRateLimiters(),
		})

		speedtestClient := speedtest.New(
			cfg.Speedtest.BaseURL,
			httpFetcher,
			bucket.H3Keyer{},
			bucket.DefaultResolutions,
			logger,
		)
		records, err := speedtestClient.Fetch(ctx, cfg.Speedtest.State, cfg.Speedtest.Record)
		if err != nil {
			return eris.Wrap(err, "report: fetch speedtests")
		}
		records = pipeline.RemoveInstitutions(records, cfg.Skid.InstitutionsToRemove)

		censusClient := census.New(cfg.Census.BaseURL, cfg.Census.Params, httpFetcher, logger)
		raw, err := censusClient.Fetch(ctx)
		if err != nil {
			return eris.Wrap(err, "report: fetch census")
		}
		reference, err := county.NormalizeReference(raw)
		if err != nil {
			return eris.Wrap(err, "report: normalize reference")
		}

		summaries, err := county.Summarize(reference, records, logger)
		if err != nil {
			return eris.Wrap(err, "report: summarize")
		}

		if err := writeReport(reportOut, summaries); err != nil {
			return err
		}

		logger.Info("report written",
			zap.String("path", reportOut),
			zap.Int("counties", len(summaries)),
		)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportOut, "out", "county-response-rates.xlsx", "output spreadsheet path")
	rootCmd.AddCommand(reportCmd)
}

// writeReport writes one sheet with a header row and one row per county.
func writeReport(path string, summaries []model.CountySummary) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("response rates")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, title := range []string{"county", "tests", "total households", "percent response"} {
		header.AddCell().SetString(title)
	}

	for _, s := range summaries {
		row := sheet.AddRow()
		row.AddCell().SetString(s.Name)
		row.AddCell().SetInt(s.Tests)
		row.AddCell().SetInt(s.TotalHouseholds)
		row.AddCell().SetFloat(s.PercentResponse)
	}

	return eris.Wrapf(file.Save(path), "report: save %s", path)
}
