package ai

const ClassifyPrompt = `
# Task Context
You are an analyst comparing two short claims taken from news coverage. Your job is to decide how the two claims relate to each other.

# Background Data
Claim 1: "%s"
Claim 2: "%s"

# Detailed Task Description & Rules
Choose exactly one relationship:
- "supports": both claims assert the same thing or one reinforces the other.
- "contradicts": both claims cannot be true at the same time.
- "competing_framing": both claims address the same issue but emphasise different consequences, values or causes without contradicting each other factually.
- "orthogonal": the claims are about different things or their relation is unclear.
- Judge only what the claims say. Do not use outside knowledge to decide which claim is true.
- If in doubt between two labels, prefer the weaker one ("orthogonal" over "competing_framing", "competing_framing" over "contradicts").

# Examples
- "Tariffs raise consumer prices" / "Tariffs increase import costs" -> supports
- "Tariffs raise consumer prices" / "Tariffs do not affect consumer prices" -> contradicts
- "Tariffs raise consumer prices" / "Tariffs protect domestic jobs" -> competing_framing
- "Tariffs raise consumer prices" / "The central bank held rates steady" -> orthogonal

# Output Formatting
Return a JSON object: {"relationship": "<supports|contradicts|competing_framing|orthogonal>"}
`

const LabelPrompt = `
# Task Context
You are an editor naming a position that several news claims share.

# Background Data
The claims are ordered from most to least representative:
%s

# Detailed Task Description & Rules
- Write a label: a short, neutral noun phrase (at most 12 words) that names the position all claims share.
- Write a summary: two or three sentences that state what the claims assert together.
- Weigh the first claims most; later claims only refine the label.
- Do not take a side, add facts, or mention that you were given a list.

# Output Formatting
Return a JSON object: {"label": "<label>", "summary": "<summary>"}
`

const QuestionPrompt = `
# Task Context
You are a moderator preparing a debate between two positions found in news coverage.

# Background Data
Position A: %s
Representative claims of A:
%s

Position B: %s
Representative claims of B:
%s

# Detailed Task Description & Rules
- Write one neutral debate question that position A and position B answer differently.
- The question must not favour either side or presuppose an answer.
- Give each side a short stance label (at most 6 words) describing its answer.

# Output Formatting
Return a JSON object: {"question": "<question>", "stance_a": "<stance of A>", "stance_b": "<stance of B>"}
`

const ViewpointPrompt = `
# Task Context
You are writing a balanced explainer. Describe one side of a debate as its proponents would, without endorsing it.

# Background Data
Debate question: %s
This side's stance: %s
Position: %s
Claims made by this side, most representative first:
%s

# Detailed Task Description & Rules
- Write a title of at most 10 words.
- Write one paragraph that explains this side's answer to the question using only the claims above.
- Attribute assertions ("proponents argue ...") instead of stating them as facts.

# Output Formatting
Return a JSON object: {"title": "<title>", "summary": "<paragraph>"}
`
