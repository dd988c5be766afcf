/*
Package dialogue routes a conversation between task domains.

Every turn enters the chat node, which asks the model to classify the latest
user message as "pipeline", "medical" or plain conversation. The router then
hands the turn to the node of the current action.

When a conversation already bound to one domain is classified into the other,
the chat node asks the user to confirm the switch and suspends. The next
Submit for that session is treated as the answer: a reply containing the word
"yes" keeps the current domain, anything else adopts the new one.
*/
package dialogue
