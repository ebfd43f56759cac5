package export

import (
	"encoding/csv"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/scripe/leadgen/internal/model"
)

func writeCSV(leads []model.LeadRecord, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return eris.Wrap(err, "export: create csv file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(leadColumns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for i := range leads {
		if err := w.Write(buildLeadRow(&leads[i])); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "export: flush csv")
}

func writeXLSX(leads []model.LeadRecord, outputPath string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "export: add xlsx sheet")
	}

	header := sheet.AddRow()
	for _, col := range leadColumns {
		header.AddCell().SetString(col)
	}
	for i := range leads {
		row := sheet.AddRow()
		for _, v := range buildLeadRow(&leads[i]) {
			row.AddCell().SetString(v)
		}
	}

	if err := f.Save(outputPath); err != nil {
		return eris.Wrap(err, "export: save xlsx file")
	}
	return nil
}

func writeJSONL(leads []model.LeadRecord, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return eris.Wrap(err, "export: create jsonl file")
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i := range leads {
		if err := enc.Encode(&leads[i]); err != nil {
			return eris.Wrap(err, "export: encode jsonl row")
		}
	}
	return nil
}
