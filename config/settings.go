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

package config

import (
	"github.com/gorse-io/cfbench/model/mf"
)

// Settings contains the configuration and the model served by a node.
type Settings struct {
	Config *Config

	// served model
	Model        mf.MatrixFactorization
	ModelVersion int64
}

func NewSettings() *Settings {
	return &Settings{
		Config: GetDefaultConfig(),
	}
}
