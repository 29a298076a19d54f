// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Reads catalog rows from a CSV file with columns x,y,flux[,psfIndex[,tag]].
// A header line is skipped if the first field is not numeric.
func LoadCSV(fileName string) ([]Row, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// Reads catalog rows from CSV data
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // column count validated per row below
	cr.TrimLeadingSpace = true

	rows := []Row{}
	for lineNo := 1; ; lineNo++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("%w: line %d has %d fields, want at least x,y,flux", ErrValidation, lineNo, len(rec))
		}
		if lineNo == 1 {
			if _, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64); err != nil {
				continue // header line
			}
		}

		var row Row
		if row.X, err = strconv.ParseFloat(strings.TrimSpace(rec[0]), 64); err != nil {
			return nil, fmt.Errorf("%w: line %d x: %s", ErrValidation, lineNo, err.Error())
		}
		if row.Y, err = strconv.ParseFloat(strings.TrimSpace(rec[1]), 64); err != nil {
			return nil, fmt.Errorf("%w: line %d y: %s", ErrValidation, lineNo, err.Error())
		}
		if row.Flux, err = strconv.ParseFloat(strings.TrimSpace(rec[2]), 64); err != nil {
			return nil, fmt.Errorf("%w: line %d flux: %s", ErrValidation, lineNo, err.Error())
		}
		if len(rec) > 3 && strings.TrimSpace(rec[3]) != "" {
			if row.PSFIndex, err = strconv.Atoi(strings.TrimSpace(rec[3])); err != nil {
				return nil, fmt.Errorf("%w: line %d psfIndex: %s", ErrValidation, lineNo, err.Error())
			}
		}
		if len(rec) > 4 {
			row.Tag = strings.TrimSpace(rec[4])
		}
		rows = append(rows, row)
	}
	return rows, nil
}
