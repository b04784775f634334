package extraction

const extractionSystemPrompt = `You are a clinical documentation assistant. You are given the ` +
	`transcript of a consultation between a patient and an AI medical assistant. Produce ` +
	`exactly the document requested, grounded only in what the transcript states. Never ` +
	`invent findings, measurements, or diagnoses that the transcript does not support.`

const visitRecordPrompt = `Write a visit record in Markdown with these sections: ` +
	`Chief Complaint, History of Present Illness, Current Medications, Allergies, ` +
	`Relevant History, Assessment Notes. Omit a section only if the transcript says ` +
	`nothing about it. Output the Markdown document only.`

const soapNotePrompt = `Write a SOAP note in Markdown with the four standard sections: ` +
	`Subjective, Objective, Assessment, Plan. The consultation is conversational, so the ` +
	`Objective section usually only carries patient-reported observations; say so when ` +
	`that is the case. Output the Markdown document only.`

const ehrEntryPrompt = `Write a concise EHR entry in Markdown for this visit: one dated ` +
	`paragraph a clinician can scan in ten seconds, covering complaint, key findings from ` +
	`the history, and any follow-up the assistant suggested. Output the Markdown only.`

const summaryPrompt = `Write a short plain-language summary of this consultation addressed ` +
	`to the patient: what they reported, what was discussed, and any suggested next steps. ` +
	`Three to six sentences, second person, no medical jargon. Output the text only.`

const clinicalLettersPrompt = `Decide whether this consultation warrants referral or ` +
	`information letters to other clinicians (for example a GP letter or a specialist ` +
	`referral). Respond with JSON only: an array of objects with keys "recipient" (the ` +
	`role the letter addresses, e.g. "general_practitioner") and "content" (the full ` +
	`letter in Markdown). Return [] when no letter is warranted.`

const profileUpdatePrompt = `Below is the patient's current longitudinal profile followed by ` +
	`the consultation transcript. Rewrite the profile to fold in any durable facts the ` +
	`consultation established: conditions, medications, allergies, relevant history. Keep ` +
	`it terse and factual. If nothing durable was established, return the profile ` +
	`unchanged. Output the profile text only.`
