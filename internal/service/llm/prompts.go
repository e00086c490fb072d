package llm

// chatTemperature keeps extraction and drafting near-deterministic while
// leaving room for natural phrasing in titles.
const chatTemperature = 0.2

// translateSystemPrompt turns arbitrary-language buyer text into English.
// Buyers write in German, French, Italian, and Spanish about as often as in
// English; everything downstream (embeddings, extraction, card drafting)
// operates on the English form.
const translateSystemPrompt = `You translate buyer requests for a business software marketplace.
Translate the user's message to English.
If the message is already in English, return it unchanged.
Return only the translated text, with no commentary and no surrounding quotation marks.`

// extractSystemPrompt pulls structured requirements out of a free-form buyer
// prompt. The labels vocabulary is closed; tags and integrations are open.
// The %s placeholder receives the comma-separated label catalog.
const extractSystemPrompt = `You extract structured software requirements from a buyer's message for a business software marketplace.

Return a JSON object with exactly these keys:
{"labels": [], "tags": [], "integrations": [], "price_max": null}

Rules:
- "labels": software categories the buyer needs. Choose ONLY from this catalog, and only when the buyer's need clearly fits: %s
- "tags": short lowercase keywords describing the buyer's business or desired features (e.g. "bakery", "offline mode", "multi currency"). Do not repeat catalog labels as tags.
- "integrations": names of specific products or services the software must connect to (e.g. "Shopify", "Datev", "Google Sheets").
- "price_max": the highest monthly price the buyer will pay, as a plain number, or null if no budget is mentioned.
- Extract only what the buyer actually said. Do not invent requirements.
- Return the JSON object only.`

// cardSystemPrompt drafts a backlog card from an English-normalized feature
// request.
const cardSystemPrompt = `You summarize feature requests for a product backlog.

Given a request, return a JSON object:
{"title": "...", "description": "..."}

Rules:
- "title": at most 10 words, plain language, no trailing period.
- "description": one or two sentences restating the request neutrally.
- Return the JSON object only.`
