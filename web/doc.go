// Package web is the HTTP frontend of the daemon.
//
// It serves four route families:
//
//	/, /ui/...    the session UI: the HTML page on GET /, then JSON patches
//	              for /ui/update/<ids>, /ui/handler/<id>/<arg> and
//	              /ui/drop/<id>/<where>/<target>/<objref>
//	/obj/...      JSON access to the object model: /obj/<objref>,
//	              /obj/list/<owners>?q=<expr>, /obj/actions/<processor>/<objref>,
//	              /obj/action/<processor>/<action>/<objref>[/<k=v,...>],
//	              /obj/notify/<name>[/<objref>] and the /obj/events websocket
//	/web/...      static files from the configured directory
//
// UI round-trips resolve the session from its cookie. A request carrying
// the cookie of an expired session gets a fresh session and a patch that
// reloads the page, since the element ids it refers to are gone. Handler
// and drop round-trips are rate limited per session.
//
// Object errors are answered as {"error": "<reason>"} with status 404 for
// object-not-found and 400 for the other reasons.
package web
