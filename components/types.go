package components

type Component string

const (
	ComponentOfPrompt Component = "ChatTemplate"
	ComponentOfChatModel Component = "ChatModel"
	ComponentOfEmbedding Component = "Embedding"
	ComponentOfIndexer Component = "Indexer"
	ComponentOfRetriever Component = "Retriever"
	ComponentOfLoader Component = "Loader"
	ComponentOfTransformer Component = "DocumentTransformer"
	ComponentOfTool Component = "Tool"
)
