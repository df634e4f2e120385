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

package client

type ErrorMessage string

func (e ErrorMessage) Error() string {
	return string(e)
}

// ReadyResponse is the metadata of the served model.
type ReadyResponse struct {
	ModelName    string `json:"model_name"`
	ModelVersion int64  `json:"model_version"`
	UserCount    int    `json:"user_count"`
	ItemCount    int    `json:"item_count"`
}

// ScoreRequest asks for the predicted rating of an item by a user.
type ScoreRequest struct {
	UserId string `json:"user_id"`
	ItemId string `json:"item_id"`
}

// ScoreResponse carries a predicted rating. Predictable is false when the
// user or the item was unseen during training and the score fell back to
// known bias terms.
type ScoreResponse struct {
	UserId      string  `json:"user_id"`
	ItemId      string  `json:"item_id"`
	Score       float64 `json:"score"`
	Predictable bool    `json:"predictable"`
}

// RecommendRequest asks for the top n items for a user.
type RecommendRequest struct {
	UserId string `json:"user_id"`
	N      int    `json:"n"`
}

// RecommendedItem is one entry of a recommendation list.
type RecommendedItem struct {
	ItemId string  `json:"item_id"`
	Score  float64 `json:"score"`
}
