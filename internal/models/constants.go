package models

// metadata keys shared by the vector store backends
const (
	MetaText        = "text"
	MetaPage        = "page"
	MetaSource      = "source"
	MetaSourceName  = "file_name"
	MetaFileGroupID = "file_id"
	MetaDimension   = "dimension"
)

const (
	WebSourcePrefix  = "Web:"
	DefaultSessionID = "default"
	URLRegex         = `(?i)\bhttps?://[^\s<>"]+|\bwww\.[^\s<>"]+`
	TokenRegex       = `[\p{L}\p{M}\p{N}_]+|\S`
	ContextSeparator = "\n\n"
)

// Greetings are matched against the trimmed, lower-cased question as a whole.
var Greetings = []string{
	"hi",
	"hii",
	"hello",
	"hey",
	"hello there",
	"hey there",
	"good morning",
	"good afternoon",
	"good evening",
	"greetings",
}

var (
	SystemPrompt = `You are a document assistant that helps users understand the documents they uploaded.
Extract and present information grounded in the documents and only use general knowledge when necessary. Never guess.

Rules:
1. Treat the retrieved document chunks as the primary source of truth.
2. Quote or summarize directly from the provided context.
3. Cite the source file name and page number, like [Source: <file_name> - Page X].
4. If several documents are relevant, cite each source used.
5. If the answer is not in the documents, say "Not found in the provided documents." and, for general concepts, add a short general explanation marked as general knowledge.`

	GroundedPromptTemplate = `%s

Include references to the [Source: ... - Page ...] in your answer wherever relevant.

%s

--- DOCUMENT CONTEXT START ---
%s
--- DOCUMENT CONTEXT END ---

User Question: %s

Answer:`

	ChunkContextTemplate = "[Source: %s - Page %d]\n%s"

	FallbackPromptTemplate = `%s

The user asked a question that is not clearly covered by the uploaded documents (no direct match was found):
%s

Answer using general knowledge only, do not guess, and begin with a short disclaimer that the answer is general knowledge and not taken from the uploaded documents.`

	ScrapePromptTemplate = `%s

Summarize the following web page content fetched from %s, then answer the user's request.

--- WEB CONTENT START ---
%s
--- WEB CONTENT END ---

User Request: %s

Answer:`

	GreetingAnswer    = "Hello! Upload a document or ask me a question about the documents you have uploaded."
	NoDocumentsAnswer = "No documents uploaded yet. Please upload a document before asking questions."
	ScrapeFailedText  = "Could not fetch %s (%s): %s"
)
