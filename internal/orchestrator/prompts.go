package orchestrator

import "github.com/qemc/conversation-gluer/internal/prompt"

// planPrompt reduces a question to its expected answer shape and a
// short action plan. Pure function of the question text.
var planPrompt = prompt.New(
	`You prepare a plan for answering a single question about a set of
reconstructed phone conversations.

Given the question, describe:
1. The expected answer format: what shape the final answer must have
   (a name, a URL, a single word, a short sentence).
2. A short action plan: what information is needed and where it is
   likely to come from (the conversations themselves, background facts,
   or an API endpoint mentioned in the conversations).

Keep it under five lines. Do not answer the question itself.`,

	`Question: ${question}`,
)

// gatherPrompt drives the sufficiency loop. The model must respond with
// exactly one tool call.
var gatherPrompt = prompt.New(
	`You decide whether the accumulated context is sufficient to answer
the question.

Read the context and the plan. Then call exactly one tool:
- research_query: the context is missing something; ask for it with a
  focused query.
- proceed_further: the context already contains what the plan needs.

You must call a tool. Do not reply with plain text.`,

	`Question: ${question}

Plan:
${plan}

Context:
${context}`,
)

// choosePrompt selects the answer path. The model must respond with
// exactly one tool call.
var choosePrompt = prompt.New(
	`You decide how the answer will be produced.

Call exactly one tool:
- api_agent_tool: answering requires calling the API endpoints that the
  context mentions (for example when the question asks what an API
  returns).
- proceed_further: the answer can be written directly from the context.

You must call a tool. Do not reply with plain text.`,

	`Question: ${question}

Plan:
${plan}

Context:
${context}`,
)

// answerPrompt produces the final short answer from context alone.
var answerPrompt = prompt.New(
	`You answer a single question using ONLY the provided context.

Rules:
- Answer briefly and directly in the format the plan describes.
- No elaboration, no explanation, no punctuation beyond what the answer
  itself requires.
- If previously wrong answers are listed in the context, never repeat
  them.`,

	`Question: ${question}

Plan:
${plan}

Context:
${context}`,
)
