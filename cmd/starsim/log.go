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

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Log writer for the process. Writes to stdout, and optionally to a file.
// Does not add prefixes, or force newlines.

var logWriter io.Writer = os.Stdout

// The optional additional file to log into
var logFile *bufio.Writer
var logFileOS *os.File

// Enables logging to file in addition to stdout
func logAlsoToFile(fileName string) (err error) {
	if logFile != nil {
		if err = logFile.Flush(); err != nil {
			return err
		}
		if err = logFileOS.Close(); err != nil {
			return err
		}
	}
	logFileOS, err = os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	logFile = bufio.NewWriter(logFileOS)
	logWriter = io.MultiWriter(os.Stdout, logFile)
	return nil
}

func logFatalf(format string, args ...interface{}) {
	fmt.Fprintf(logWriter, format, args...)
	logSync()
	os.Exit(1)
}

func logSync() {
	if logFile != nil {
		logFile.Flush()
		logFileOS.Sync()
	}
}
