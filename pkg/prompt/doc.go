// Package prompt provides upgrade prompt dispatchers for the entitlement
// enforcer. The enforcer hands a structured prompt to a dispatcher on every
// business denial; dispatchers own delivery and presentation.
//
// Three implementations are included: LogDispatcher writes prompts to the
// structured log (development and fallback), WebhookDispatcher posts the
// prompt as signed JSON to an in-app notification endpoint, and
// EmailDispatcher notifies the account owner through Postmark.
package prompt
