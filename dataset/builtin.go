// Copyright 2026 cfbench Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/gorse-io/cfbench/common/datautil"
	"github.com/juju/errors"
)

type builtinDataset struct {
	path   string
	sep    string
	header bool
}

// Built-in datasets are downloaded from https://cdn.gorse.io/datasets/ and
// cached under ~/.cfbench/dataset.
var builtinDatasets = map[string]builtinDataset{
	// MovieLens: https://grouplens.org/datasets/movielens/
	"ml-100k": {
		path:   "ml-100k/u.data",
		sep:    "\t",
		header: false,
	},
	"ml-1m": {
		path:   "ml-1m/ratings.dat",
		sep:    "::",
		header: false,
	},
	"ml-10m": {
		path:   "ml-10M100K/ratings.dat",
		sep:    "::",
		header: false,
	},
	"ml-20m": {
		path:   "ml-20m/ratings.csv",
		sep:    ",",
		header: true,
	},
	"filmtrust": {
		path:   "filmtrust/ratings.txt",
		sep:    " ",
		header: false,
	},
	"epinions": {
		path:   "epinions/ratings_data.txt",
		sep:    " ",
		header: true,
	},
}

// BuiltinDatasets returns the names of built-in datasets.
func BuiltinDatasets() []string {
	names := make([]string, 0, len(builtinDatasets))
	for name := range builtinDatasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDataFromBuiltIn loads a built-in rating dataset, downloading it on
// first use.
func LoadDataFromBuiltIn(name string) (*Dataset, error) {
	entry, exist := builtinDatasets[name]
	if !exist {
		return nil, errors.NotFoundf("built-in dataset %s", name)
	}
	dataFile := filepath.Join(datautil.DatasetDir, entry.path)
	if _, err := os.Stat(dataFile); os.IsNotExist(err) {
		if _, err := datautil.DownloadAndUnzip(name); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return LoadDataFromCSV(dataFile, entry.sep, entry.header)
}
