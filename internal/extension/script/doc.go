// SPDX-License-Identifier: MPL-2.0

// Package script loads source extensions written in JavaScript.
//
// Every *.js file in the extensions directory runs in its own goja runtime
// and registers exactly one extension:
//
//	melon.register({
//	    name: "Mirror", author: "me", version: "1.0.0",
//	    link: "https://mirror.example",
//	    search: function (url, current) {
//	        var rel = http.getJSON(url + "/latest.json");
//	        if (rel === null) return null;
//	        return { latest: rel.version, downloads: [{ url: rel.asset }], pageUrl: url };
//	    },
//	});
//
// Host bindings: http.get, http.getJSON, storage.get, storage.set,
// log.info, log.warn, log.error and melon.unload. A thrown exception is an
// extension fault; a call that outlives its timeout is interrupted.
package script
