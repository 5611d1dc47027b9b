package models

const (
	ThinkTag = `(?s)<think>.*?</think>`

	DefaultResponseType = "professional"

	NoPrecedentsText = "No similar precedents found in the knowledge base."
	PrecedentsHeader = "Similar precedents found:\n\n"

	ErrorResponseText      = "Error generating response. Please try again."
	ErrorResponseReasoning = "Error occurred during response generation"
	ErrorResponseTone      = "error"

	DefaultConfidence      = 0.5
	DefaultReasoning       = "Standard evaluation"
	EvaluationFailedReason = "Evaluation failed"
)

var (
	ClassifySystemPrompt = `You are a legal document classifier. Analyze the content and classify it into one of these categories:
- letter: General legal correspondence
- contract: Legal agreements, contracts, terms
- notice: Legal notices, warnings, formal announcements
- complaint: Legal complaints, grievances
- response: Legal responses, replies, counter-arguments

Respond with a JSON object of the form {"document_type": "<category>"} and nothing else.`

	ClassifyUserPrompt = "Classify this legal document:\n\n%s"

	FactsSystemPrompt = `You are a legal document analyzer. Extract:
1. Parties involved (names of people, companies, organizations)
2. Key legal issues mentioned

Respond with a JSON object and nothing else:
{"parties": ["..."], "issues": ["..."]}`

	FactsUserPrompt = "Analyze this legal document:\n\n%s"

	AnalysisSystemPrompt = `You are a legal analyst. Analyze the provided legal document and extract:
1. Key legal issues and arguments
2. Parties involved and their positions
3. Relevant legal precedents or citations
4. Potential legal risks or concerns
5. Recommended response strategy

Provide a structured analysis.`

	AnalysisUserPrompt = "Analyze this legal document:\n\n%s"

	ResponseSystemPrompt = `You are a legal response generator. Create a professional legal response based on:
1. The legal analysis provided
2. Similar precedents and cases
3. The requested response type

The response should be:
- Professional and legally sound
- Address all key issues raised
- Reference relevant precedents when appropriate
- Maintain appropriate tone for the situation
- Include clear next steps or recommendations`

	ResponseUserPrompt = `Generate a legal response with the following information:

Analysis: %s

Precedents: %s

Response Type: %s

Please provide a comprehensive legal response.`

	EvaluateSystemPrompt = `Evaluate the quality of a legal response. Provide:
1. Confidence score (0.0 to 1.0)
2. Reasoning for the score
3. Key points addressed in the response

Respond with a JSON object and nothing else:
{"confidence": 0.0, "reasoning": "...", "key_points": ["..."]}`

	EvaluateUserPrompt = `Evaluate this legal response for the document:

Document Issues: %s
Document Parties: %s

Response: %s`

	// fallback analysis used when the analysis call fails
	FallbackAnalysisTemplate = `Document type: %s
Parties: %s
Key issues: %s

Excerpt:
%s`
)
