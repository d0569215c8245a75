// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert
// Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape; type mismatches yield zero values, not
// errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// GovernanceQueryResponse is the typed shape of a GovernanceDocument
// nearVector query.
type GovernanceQueryResponse struct {
	Get struct {
		GovernanceDocument []GovernanceQueryResult `json:"GovernanceDocument"`
	} `json:"Get"`
}

// GovernanceQueryResult is one hit within a GovernanceQueryResponse.
type GovernanceQueryResult struct {
	Title      string `json:"title"`
	Source     string `json:"source"`
	Content    string `json:"content"`
	OrgID      string `json:"org_id"`
	Domain     string `json:"domain"`
	Additional struct {
		ID        string  `json:"id"`
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}
