package reconstruct

import "github.com/qemc/conversation-gluer/internal/prompt"

// proposePrompt asks the model to order a conversation from its
// boundary sentences and the candidate pool. The pool is shared across
// conversations and contains noise, so the model must pick exactly the
// middle sentences that belong.
var proposePrompt = prompt.New(
	`You reconstruct the correct order of a scrambled dialogue from loose fragments.

You are given the first sentence, the last sentence, the expected total
sentence count N, and an unordered list of candidate middle sentences.
The candidate list is noisy: it also contains sentences from unrelated
conversations.

Work out which candidates belong and in what order:
- follow question/answer and greeting/reaction pairs,
- track pronouns back to people already mentioned,
- respect temporal sequence.

Rules:
- The result must contain exactly N sentences, the given first sentence
  first and the given last sentence last.
- Copy every sentence character for character. Do not change
  punctuation, casing, mistakes or dashes.
- Use each candidate at most once.
- Respond with ONLY a JSON array of N strings. No prose, no code fence.`,

	`First sentence: ${first}
Last sentence: ${last}
Expected total sentence count (N): ${length}
Candidate middle sentences (unordered):
${candidates}
${hint}`,
)
