package mcp

// SearchInput is the input schema of the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the natural-language search query, at least 2 characters"`
	K     int    `json:"k,omitempty" jsonschema:"number of documents to return, 1 to 20, default 5"`
}

// SearchOutput is the output schema of the search tool.
type SearchOutput struct {
	Query        string               `json:"query"`
	Results      []SearchResultOutput `json:"results" jsonschema:"retrieved documents, most similar first"`
	TotalMatches int                  `json:"total_matches"`
}

// SearchResultOutput is one retrieved document.
type SearchResultOutput struct {
	ID    string  `json:"id" jsonschema:"document identifier"`
	URL   string  `json:"url" jsonschema:"page the document was crawled from"`
	Text  string  `json:"text" jsonschema:"cleaned page text"`
	Score float64 `json:"score" jsonschema:"inner-product similarity"`
}

// AnswerInput is the input schema of the answer tool.
type AnswerInput struct {
	Query string `json:"query" jsonschema:"the question, at least 2 characters"`
	K     int    `json:"k,omitempty" jsonschema:"number of sources to assemble, 1 to 20, default 5"`
}

// AnswerOutput is the output schema of the answer tool.
type AnswerOutput struct {
	Answer       string `json:"answer" jsonschema:"the retrieved sources, truncated and joined"`
	ContextCount int    `json:"ctx_count" jsonschema:"number of sources used"`
}

// ReloadIndexInput is the input schema of the reload_index tool (no parameters).
type ReloadIndexInput struct{}

// ReloadIndexOutput is the output schema of the reload_index tool.
type ReloadIndexOutput struct {
	Loaded      bool   `json:"loaded"`
	VectorCount int    `json:"vector_count"`
	Message     string `json:"message"`
}

// HealthInput is the input schema of the health tool (no parameters).
type HealthInput struct{}

// HealthOutput is the output schema of the health tool.
type HealthOutput struct {
	Status         string `json:"status"`
	IndexLoaded    bool   `json:"vector_index_loaded"`
	VectorCount    int    `json:"vector_count"`
	RawDocuments   int    `json:"raw_documents"`
	CleanDocuments int    `json:"clean_documents"`
}
